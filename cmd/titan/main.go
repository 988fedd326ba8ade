package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/titanml/titan/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "titan",
		Usage: "Export, inspect and serve .titan models",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			exportCmd(),
			inspectCmd(),
			inferCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildLogger resolves level and format from flags and the config
// file. Flags win; the config file fills in unset values.
func buildLogger(cfg Config) logger.Logger {
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	format := logFormat
	if format == "" {
		format = cfg.LogFormat
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	if debug {
		slogLevel = slog.LevelDebug
	}

	switch format {
	case "json":
		return logger.JSON(os.Stderr, slogLevel)
	case "text":
		return logger.Text(os.Stderr, slogLevel)
	default:
		return logger.Pretty(os.Stderr, slogLevel)
	}
}
