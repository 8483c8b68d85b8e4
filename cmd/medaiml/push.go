package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/urfave/cli/v3"
)

func pushCmd() *cli.Command {
	var (
		server    string
		key       string
		modelName string
		chunkSize int
		replace   bool
		commit    bool
	)

	return &cli.Command{
		Name:      "push",
		Usage:     "Upload a local file to a running server in chunks",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Aliases:     []string{"s"},
				Usage:       "server base URL",
				Value:       "http://127.0.0.1:8080",
				Destination: &server,
			},
			&cli.StringFlag{
				Name:        "key",
				Aliases:     []string{"k"},
				Usage:       "artifact key",
				Destination: &key,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "named model artifact (classifier, classifier-config, text, text-config)",
				Destination: &modelName,
			},
			&cli.IntFlag{
				Name:        "chunk-size",
				Usage:       "bytes per request",
				Value:       artifact.DefaultChunkSize,
				Destination: &chunkSize,
			},
			&cli.BoolFlag{
				Name:        "replace",
				Usage:       "clear the artifact before uploading",
				Destination: &replace,
			},
			&cli.BoolFlag{
				Name:        "commit",
				Usage:       "seal the artifact after the last chunk",
				Destination: &commit,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyPushConfig(cmd, fileConfig, &server, &chunkSize)
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("exactly one file is required")
			}
			path := cmd.Args().First()
			log := logger.FromContext(ctx)

			c := &pushClient{base: strings.TrimRight(server, "/"), http: &http.Client{Timeout: 5 * time.Minute}}
			target, err := c.chunkPath(key, modelName)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			if replace {
				if key == "" {
					return fmt.Errorf("--replace needs --key")
				}
				if err := c.do(ctx, http.MethodDelete, artifactPath(key), nil); err != nil {
					return err
				}
			}
			start := time.Now()
			chunks, n, err := c.push(ctx, target, f, chunkSize)
			if err != nil {
				return err
			}
			log.Info("pushed", "file", path, "target", target, "bytes", n, "chunks", chunks, "took", time.Since(start))

			if commit {
				if key == "" {
					return fmt.Errorf("--commit needs --key")
				}
				return c.do(ctx, http.MethodPost, artifactPath(key)+"/commit", nil)
			}
			return nil
		},
	}
}

type pushClient struct {
	base string
	http *http.Client
}

func artifactPath(key string) string {
	return "/v1/artifacts/" + url.PathEscape(key)
}

func (c *pushClient) chunkPath(key, modelName string) (string, error) {
	switch {
	case key != "" && modelName != "":
		return "", fmt.Errorf("--key and --model are mutually exclusive")
	case key != "":
		return artifactPath(key), nil
	case modelName != "":
		return "/v1/models/" + url.PathEscape(modelName) + "/chunks", nil
	default:
		return "", fmt.Errorf("one of --key or --model is required")
	}
}

// push streams r to path in chunkSize requests, in order.
func (c *pushClient) push(ctx context.Context, path string, r io.Reader, chunkSize int) (chunks, total int, err error) {
	if chunkSize <= 0 {
		return 0, 0, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	buf := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if err := c.do(ctx, http.MethodPost, path, buf[:n]); err != nil {
				return chunks, total, fmt.Errorf("chunk %d: %w", chunks, err)
			}
			chunks++
			total += n
		}
		switch rerr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return chunks, total, nil
		default:
			return chunks, total, rerr
		}
	}
}

func (c *pushClient) do(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
