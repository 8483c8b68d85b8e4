package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/state"
	"github.com/urfave/cli/v3"
)

func generateCmd() *cli.Command {
	var (
		prompt       string
		maxNewTokens int
		quiet        bool
	)

	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate text offline from a local text model",
		ArgsUsage: "[prompt]",
		Flags: append(localModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text (or pass it as the argument)",
				Destination: &prompt,
			},
			&cli.IntFlag{
				Name:        "max-new-tokens",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to generate",
				Value:       32,
				Destination: &maxNewTokens,
			},
			&cli.BoolFlag{
				Name:        "quiet",
				Aliases:     []string{"q"},
				Usage:       "print only the final text, without streaming",
				Destination: &quiet,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if prompt == "" {
				prompt = strings.Join(cmd.Args().Slice(), " ")
			}

			cfg, err := os.ReadFile(modelConfigPath)
			if err != nil {
				return fmt.Errorf("read model config: %w", err)
			}
			weights, err := os.ReadFile(modelWeightsPath)
			if err != nil {
				return fmt.Errorf("read weights: %w", err)
			}
			tm, err := state.BuildTextModel(cfg, weights, 0)
			if err != nil {
				return err
			}

			var stream func(string)
			if !quiet {
				fmt.Print(prompt)
				stream = func(piece string) { fmt.Print(piece) }
			}
			res, err := tm.Generator.Generate(ctx, prompt, maxNewTokens, stream)
			if !quiet {
				fmt.Println()
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if quiet {
				fmt.Println(res.Text)
			}
			log.Info("generation finished",
				"stop_reason", res.Reason,
				"tokens", res.Stats.TokensGenerated,
				"took", res.Stats.Duration,
				"tps", fmt.Sprintf("%.2f", res.Stats.TPS))
			return nil
		},
	}
}
