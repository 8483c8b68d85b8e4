package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/samcharles93/medaiml/internal/api"
	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/metrics"
	"github.com/samcharles93/medaiml/internal/state"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var opts serveOptions

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: serveFlags(&opts),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, fileConfig, &opts)
			log := logger.FromContext(ctx)

			m := metrics.New()
			proc := state.New(state.Options{
				Logger:            log,
				Metrics:           m,
				MaxNewTokensLimit: opts.maxNewTokensLimit,
			})
			if len(opts.preload) > 0 {
				if err := proc.Preload(opts.preload, opts.chunkSize); err != nil {
					return err
				}
			}

			server := api.NewServer(proc, api.Options{
				Logger:       log,
				Metrics:      m,
				MaxBodyBytes: opts.maxBodyBytes,
			})
			e := echo.New()
			e.Use(api.RequestID())
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", opts.addr, "max_new_tokens_limit", opts.maxNewTokensLimit)
			sc := echo.StartConfig{
				Address: opts.addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = opts.readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func serveFlags(opts *serveOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &opts.addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &opts.readTimeout,
		},
		&cli.Int64Flag{
			Name:        "max-body-bytes",
			Usage:       "largest accepted request body (and artifact chunk)",
			Value:       api.DefaultMaxBodyBytes,
			Destination: &opts.maxBodyBytes,
		},
		&cli.IntFlag{
			Name:        "max-new-tokens-limit",
			Usage:       "upper bound applied to max_new_tokens (0 disables)",
			Value:       512,
			Destination: &opts.maxNewTokensLimit,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "chunk size used when preloading artifacts",
			Value:       artifact.DefaultChunkSize,
			Destination: &opts.chunkSize,
		},
		&cli.StringMapFlag{
			Name:        "preload",
			Usage:       "artifact to load at startup as key=path (repeatable)",
			Destination: &opts.preload,
		},
	}
}
