// Command powerproxy is the reverse proxy described in SPEC_FULL.md: it
// authenticates callers against a proxy-internal client table, dispatches
// requests to one of several managed Azure OpenAI backends, and streams the
// response back while running a plugin pipeline for deployment allow-
// listing, rate limiting, and usage logging.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/powerproxy/internal/app"
	"github.com/nulpointcorp/powerproxy/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	var opts config.Options

	cmd := &cobra.Command{
		Use:   "powerproxy",
		Short: "Reverse proxy in front of Azure OpenAI backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config-file", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&opts.ConfigEnvVar, "config-env-var", "", "name of an environment variable holding the YAML configuration")
	cmd.Flags().StringVar(&opts.ConfigString, "config-string", "", "YAML configuration given directly on the command line")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listening port (overrides configuration, default 80)")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(opts config.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("powerproxy stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	return nil
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
