package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/driftsync/syncd/cmd/syncd/app"
)

func main() {
	if err := app.NewApp().Run(); err != nil {
		os.Exit(1)
	}
}
