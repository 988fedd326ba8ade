package main

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/titanml/titan/internal/api"
	"github.com/titanml/titan/internal/infer"
	"github.com/titanml/titan/pkg/titan"
)

func serveCmd() *cli.Command {
	var (
		modelPath   string
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve predictions from a .titan model over HTTP",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .titan file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			log := buildLogger(cfg)
			if cfg.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = cfg.ServerAddress
			}

			model, err := titan.DecodeFile(modelPath)
			if err != nil {
				return err
			}
			engine, err := infer.New(model)
			if err != nil {
				return err
			}

			server := api.NewServer(engine, filepath.Base(modelPath))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("serving model", "model", modelPath, "layers", len(model),
				"parameters", model.ParameterCount(), "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
