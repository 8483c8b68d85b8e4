package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/urfave/cli/v3"
)

// fileConfig holds the config file loaded before any command runs.
var fileConfig Config

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "medaiml",
		Usage:  "Medical inference service: malaria image classification, biomedical text generation and federated averaging",
		Flags:  loggingFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			serveCmd(),
			generateCmd(),
			predictCmd(),
			aggregateCmd(),
			pushCmd(),
			initWeightsCmd(),
			versionCmd(),
		},
	}
}

// setup loads the config file and installs the logger into the context
// every command receives.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configPath())
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	applyLoggingConfig(cmd, cfg)
	if debug {
		logLevel = "debug"
	}
	log, err := logger.Setup(os.Stderr, logFormat, logLevel)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
