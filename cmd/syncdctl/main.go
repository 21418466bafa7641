package main

import (
	"os"

	"github.com/driftsync/syncd/cmd/syncdctl/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
