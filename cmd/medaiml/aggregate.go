package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samcharles93/medaiml/internal/federated"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/urfave/cli/v3"
)

func aggregateCmd() *cli.Command {
	var out string

	return &cli.Command{
		Name:      "aggregate",
		Usage:     "Average local weight payloads by sample count",
		ArgsUsage: "<payload:num_samples> [payload:num_samples...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the aggregated payload to this file",
				Destination: &out,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			agg, err := aggregateFiles(cmd.Args().Slice())
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, federated.EncodeWeights(agg.Weights), 0o644); err != nil {
					return fmt.Errorf("write aggregate: %w", err)
				}
				log.Info("aggregate written", "path", out, "len", len(agg.Weights))
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(agg)
		},
	}
}

// aggregateFiles merges every "path:samples" update in order.
func aggregateFiles(specs []string) (federated.Aggregate, error) {
	if len(specs) == 0 {
		return federated.Aggregate{}, fmt.Errorf("at least one update is required")
	}
	a := federated.NewAggregator()
	for _, spec := range specs {
		path, samples, err := parseUpdateSpec(spec)
		if err != nil {
			return federated.Aggregate{}, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return federated.Aggregate{}, fmt.Errorf("read update: %w", err)
		}
		w, err := federated.DecodeWeights(b)
		if err != nil {
			return federated.Aggregate{}, fmt.Errorf("%s: %w", path, err)
		}
		if err := a.Merge(w, samples); err != nil {
			return federated.Aggregate{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	agg, _ := a.Snapshot()
	return agg, nil
}

func parseUpdateSpec(spec string) (string, uint64, error) {
	i := strings.LastIndexByte(spec, ':')
	if i <= 0 || i == len(spec)-1 {
		return "", 0, fmt.Errorf("update %q: want <payload>:<num_samples>", spec)
	}
	samples, err := strconv.ParseUint(spec[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("update %q: bad sample count: %w", spec, err)
	}
	return spec[:i], samples, nil
}
