// Package app assembles the syncd server binary: cobra/viper flag
// bootstrap, then handoff into internal/syncd's component wiring.
package app

import (
	"fmt"

	"github.com/driftsync/syncd/cmd/syncd/app/options"
	"github.com/driftsync/syncd/pkg/app"
	"github.com/driftsync/syncd/pkg/log"
)

const (
	commandName = "syncd"
	commandDesc = `syncd is the server half of the cross-device sync protocol: it
accepts websocket connections from devices, merges concurrent writes with
field-level conflict resolution, and fans out committed operations to every
other live session for the same owner.`
)

// NewApp builds the syncd cobra command.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		commandName,
		"Run the syncd sync server",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		ctx := app.SetupSignalContext()
		log.Init(opts.Log)

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewServer()
		if err != nil {
			return fmt.Errorf("failed to create syncd server: %w", err)
		}

		return server.Run(ctx)
	}
}
