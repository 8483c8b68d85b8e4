package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the medaiml configuration file (~/.config/medaiml/config.yaml).
// Scalar fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Server
	Addr              *string        `yaml:"addr"`
	ReadTimeout       *time.Duration `yaml:"read_timeout"`
	MaxBodyBytes      *int64         `yaml:"max_body_bytes"`
	MaxNewTokensLimit *int           `yaml:"max_new_tokens_limit"`
	ChunkSize         *int           `yaml:"chunk_size"`
	// Preload maps artifact keys to local files appended at startup.
	Preload map[string]string `yaml:"preload"`

	// Client
	Server string `yaml:"server"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type serveOptions struct {
	addr              string
	readTimeout       time.Duration
	maxBodyBytes      int64
	maxNewTokensLimit int
	chunkSize         int
	preload           map[string]string
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "medaiml", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the root logging
// flags when they were not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command options.
func applyServeConfig(c *cli.Command, cfg Config, opts *serveOptions) {
	if cfg.Addr != nil && !c.IsSet("addr") {
		opts.addr = *cfg.Addr
	}
	if cfg.ReadTimeout != nil && !c.IsSet("read-timeout") {
		opts.readTimeout = *cfg.ReadTimeout
	}
	if cfg.MaxBodyBytes != nil && !c.IsSet("max-body-bytes") {
		opts.maxBodyBytes = *cfg.MaxBodyBytes
	}
	if cfg.MaxNewTokensLimit != nil && !c.IsSet("max-new-tokens-limit") {
		opts.maxNewTokensLimit = *cfg.MaxNewTokensLimit
	}
	if cfg.ChunkSize != nil && !c.IsSet("chunk-size") {
		opts.chunkSize = *cfg.ChunkSize
	}
	if len(cfg.Preload) > 0 && !c.IsSet("preload") {
		opts.preload = cfg.Preload
	}
}

// applyPushConfig applies config file defaults to push command options.
func applyPushConfig(c *cli.Command, cfg Config, server *string, chunkSize *int) {
	if cfg.Server != "" && !c.IsSet("server") {
		*server = cfg.Server
	}
	if cfg.ChunkSize != nil && !c.IsSet("chunk-size") {
		*chunkSize = *cfg.ChunkSize
	}
}
