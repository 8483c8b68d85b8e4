package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Addr != nil || cfg.Preload != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("parses every key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte(`addr: "0.0.0.0:9000"
read_timeout: 5s
max_body_bytes: 2048
max_new_tokens_limit: 16
chunk_size: 1024
preload:
  config.json: /srv/models/config.json
server: http://models.internal:8080
log_level: debug
log_format: json
`)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Addr == nil || *cfg.Addr != "0.0.0.0:9000" {
			t.Fatalf("addr: got %v", cfg.Addr)
		}
		if cfg.ReadTimeout == nil || *cfg.ReadTimeout != 5*time.Second {
			t.Fatalf("read_timeout: got %v", cfg.ReadTimeout)
		}
		if cfg.MaxNewTokensLimit == nil || *cfg.MaxNewTokensLimit != 16 {
			t.Fatalf("max_new_tokens_limit: got %v", cfg.MaxNewTokensLimit)
		}
		if cfg.Preload["config.json"] != "/srv/models/config.json" {
			t.Fatalf("preload: got %v", cfg.Preload)
		}
		if cfg.Server != "http://models.internal:8080" || cfg.LogFormat != "json" {
			t.Fatalf("unexpected client/output config: %+v", cfg)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestApplyServeConfigRespectsFlags(t *testing.T) {
	addr := "0.0.0.0:9000"
	timeout := 5 * time.Second
	limit := 16
	chunk := 1024
	cfg := Config{
		Addr:              &addr,
		ReadTimeout:       &timeout,
		MaxNewTokensLimit: &limit,
		ChunkSize:         &chunk,
		Preload:           map[string]string{"config.json": "/srv/config.json"},
	}

	var opts serveOptions
	cmd := &cli.Command{
		Name:  "serve",
		Flags: serveFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyServeConfig(c, cfg, &opts)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"serve", "--addr", "127.0.0.1:1"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if opts.addr != "127.0.0.1:1" {
		t.Fatalf("explicit flag should win, got %q", opts.addr)
	}
	if opts.readTimeout != timeout {
		t.Fatalf("read timeout: got %v want %v", opts.readTimeout, timeout)
	}
	if opts.maxNewTokensLimit != 16 || opts.chunkSize != 1024 {
		t.Fatalf("config defaults not applied: %+v", opts)
	}
	if opts.preload["config.json"] != "/srv/config.json" {
		t.Fatalf("preload: got %v", opts.preload)
	}
}
