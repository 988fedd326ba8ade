package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/titanml/titan/internal/infer"
	"github.com/titanml/titan/pkg/titan"
)

func inferCmd() *cli.Command {
	var (
		modelPath string
		inputCSV  string
	)

	return &cli.Command{
		Name:  "infer",
		Usage: "Run a .titan model over one input vector",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .titan file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "comma-separated input values, e.g. 1.0,0.5,-2",
				Destination: &inputCSV,
				Required:    true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := titan.DecodeFile(modelPath)
			if err != nil {
				return err
			}
			engine, err := infer.New(model)
			if err != nil {
				return err
			}

			input, err := parseVector(inputCSV)
			if err != nil {
				return err
			}
			out, err := engine.Predict(input)
			if err != nil {
				return err
			}

			parts := make([]string, len(out))
			for i, v := range out {
				parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
			}
			fmt.Println(strings.Join(parts, " "))
			return nil
		},
	}
}

func parseVector(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	out := make([]float32, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid input value %q: %w", f, err)
		}
		out = append(out, float32(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty input vector")
	}
	return out, nil
}
