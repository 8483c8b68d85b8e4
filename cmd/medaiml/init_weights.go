package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/model"
	"github.com/samcharles93/medaiml/internal/safetensors"
	"github.com/urfave/cli/v3"
)

func initWeightsCmd() *cli.Command {
	var (
		kind    string
		cfgPath string
		out     string
		seed    int64
	)

	return &cli.Command{
		Name:  "init-weights",
		Usage: "Write a freshly initialized safetensors archive for a model configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "model kind (classifier, text)",
				Value:       "classifier",
				Destination: &kind,
			},
			&cli.StringFlag{
				Name:        "model-config",
				Aliases:     []string{"c"},
				Usage:       "path to the model configuration JSON",
				Required:    true,
				Destination: &cfgPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output archive path",
				Required:    true,
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "initialization seed",
				Value:       1,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			raw, err := os.ReadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("read model config: %w", err)
			}
			buf, names, err := initArchive(kind, raw, seed)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, buf, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			log := logger.FromContext(ctx)
			log.Debug("archive tensors", "names", names)
			log.Info("weights initialized", "kind", kind, "tensors", len(names), "bytes", len(buf), "path", out)
			return nil
		},
	}
}

// initArchive returns the encoded archive and its tensor names, read back
// from the encoded bytes.
func initArchive(kind string, rawConfig []byte, seed int64) ([]byte, []string, error) {
	var (
		entries map[string]safetensors.Entry
		err     error
	)
	switch kind {
	case "classifier":
		var cfg *model.ClassifierConfig
		if cfg, err = model.ParseClassifierConfig(rawConfig); err != nil {
			return nil, nil, err
		}
		entries, err = model.InitClassifierWeights(cfg, seed)
	case "text":
		var cfg *model.TransformerConfig
		if cfg, err = model.ParseTransformerConfig(rawConfig); err != nil {
			return nil, nil, err
		}
		entries, err = model.InitTransformerWeights(cfg, seed)
	default:
		return nil, nil, fmt.Errorf("unknown model kind %q (want classifier or text)", kind)
	}
	if err != nil {
		return nil, nil, err
	}
	buf, err := safetensors.Encode(entries)
	if err != nil {
		return nil, nil, err
	}
	f, err := safetensors.Parse(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf, f.Names(), nil
}
