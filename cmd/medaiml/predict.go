package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/state"
	"github.com/urfave/cli/v3"
)

func predictCmd() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Classify blood smear images offline with a local classifier",
		ArgsUsage: "<image> [image...]",
		Flags:     localModelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return fmt.Errorf("at least one image path is required")
			}
			log := logger.FromContext(ctx)
			proc := state.New(state.Options{Logger: log})
			err := proc.Preload(map[string]string{
				artifact.ClassifierWeights: modelWeightsPath,
				artifact.ClassifierConfig:  modelConfigPath,
			}, artifact.DefaultChunkSize)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for _, path := range cmd.Args().Slice() {
				img, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				pred, err := proc.LoadAndPredict(ctx, img)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := enc.Encode(struct {
					Image string `json:"image"`
					state.Prediction
				}{path, pred}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
