package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/titanml/titan/internal/manifest"
	"github.com/titanml/titan/pkg/titan"
)

func exportCmd() *cli.Command {
	var (
		manifestPath string
		outputPath   string
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Export a sequential model to a .titan file",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "manifest",
				Aliases:     []string{"in"},
				Usage:       "path to the model manifest (model.json)",
				Destination: &manifestPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"out", "o"},
				Usage:       "output .titan path",
				Destination: &outputPath,
				Required:    true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger(LoadConfig())

			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			log.Debug("manifest loaded", "path", manifestPath, "layers", len(m.Layers))

			model, err := manifest.Adapt(m, filepath.Dir(manifestPath))
			if err != nil {
				return fmt.Errorf("adapt: %w", err)
			}

			// A failed encode removes its partial output, so an error
			// here never leaves a file at outputPath.
			sum, err := titan.EncodeFile(outputPath, model)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}

			fmt.Printf("Exported to %s\n", outputPath)
			fmt.Printf("  Layers:     %d\n", sum.Layers)
			fmt.Printf("  Parameters: %d\n", sum.Parameters)
			return nil
		},
	}
}
