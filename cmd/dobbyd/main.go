// Command dobbyd is the container supervisor daemon: it loads the
// settings document, wires the configuration pipeline/bundle/plugin/
// supervisor stack into an engine.Engine, and serves start/stop
// requests for the process lifetime. The D-Bus (or equivalent) control
// surface that would front this process is out of scope; this binary
// is the local entry point that surface would drive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/rdkcentral/dobby/internal/engine"
)

func main() {
	app := &cli.App{
		Name:  "dobbyd",
		Usage: "OCI container supervisor daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "settings",
				Usage: "path to the settings document",
				Value: "/etc/rdk/dobby-settings.json",
			},
			&cli.StringFlag{
				Name:  "oci-tool",
				Usage: "path to the external OCI runtime tool binary",
				Value: "/usr/bin/crun",
			},
			&cli.StringFlag{
				Name:  "runtime-root",
				Usage: "directory the OCI tool uses to track its own state",
				Value: "/var/run/rdk/dobby",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug-level logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := zerolog.InfoLevel
	if c.Bool("debug") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "dobbyd").Logger()

	settings, err := engine.LoadSettings(c.String("settings"))
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.RuntimeRoot == "" {
		settings.RuntimeRoot = c.String("runtime-root")
	}
	if settings.LibexecDir == "" {
		settings.LibexecDir = filepath.Dir(os.Args[0])
	}

	eng, err := engine.New(settings, c.String("oci-tool"), log)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Msg("starting reaper loop")
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("reaper loop exited with error: %w", err)
	}
	log.Info().Msg("shut down cleanly")
	return nil
}
