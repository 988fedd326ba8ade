package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/titanml/titan/pkg/titan"
)

func inspectCmd() *cli.Command {
	var modelPath string

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the contents of a .titan file",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .titan file",
				Destination: &modelPath,
				Required:    true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := titan.DecodeFile(modelPath)
			if err != nil {
				return err
			}

			fmt.Printf("File: %s\n", modelPath)
			fmt.Printf("titan v%d | layers=%d | parameters=%d | size=%d bytes\n",
				titan.FormatVersion, len(model), model.ParameterCount(), model.EncodedSize())

			for i, layer := range model {
				switch l := layer.(type) {
				case *titan.Dense:
					bias := "no bias"
					if l.HasBias {
						bias = "bias"
					}
					fmt.Printf("  %2d: dense    %d -> %d (%s)\n", i, l.InFeatures, l.OutFeatures, bias)
				default:
					fmt.Printf("  %2d: %s\n", i, layer.Type())
				}
			}
			return nil
		},
	}
}
