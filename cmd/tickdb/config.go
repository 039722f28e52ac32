package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bsm/tickdb"
	"gopkg.in/yaml.v3"
)

// Default values for optional configuration fields.
const (
	DefaultDepth       = 1
	DefaultScale       = 100
	DefaultChunkSize   = 300
	DefaultCompression = "snappy"
)

const dateLayout = "2006-01-02"

// Config describes a single day file. Depth -1 stores trades only.
type Config struct {
	File        string `yaml:"file"`
	Stock       string `yaml:"stock"`
	Date        string `yaml:"date"`
	Depth       int    `yaml:"depth"`
	Scale       int    `yaml:"scale"`
	ChunkSize   int    `yaml:"chunk_size"`
	Compression string `yaml:"compression"`
}

// LoadConfig reads a YAML config file and expands environment variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Depth == 0 {
		c.Depth = DefaultDepth
	}
	if c.Scale == 0 {
		c.Scale = DefaultScale
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.File == "" {
		return errors.New("file is required")
	}
	if c.Stock == "" {
		return errors.New("stock is required")
	}
	if c.Date == "" {
		return errors.New("date is required")
	}
	if _, err := time.Parse(dateLayout, c.Date); err != nil {
		return fmt.Errorf("date must be formatted as %s, got %q", dateLayout, c.Date)
	}
	if c.Depth < -1 {
		return errors.New("depth must be >= -1")
	}
	if c.Scale < 1 {
		return errors.New("scale must be >= 1")
	}
	if c.ChunkSize < 1 || c.ChunkSize > 86400 {
		return fmt.Errorf("chunk_size must be between 1 and 86400, got %d", c.ChunkSize)
	}
	switch c.Compression {
	case "snappy", "none":
	default:
		return fmt.Errorf("compression must be snappy or none, got %q", c.Compression)
	}
	return nil
}

// Options converts the config into writer options.
func (c *Config) Options(logger *slog.Logger) *tickdb.Options {
	date, _ := time.Parse(dateLayout, c.Date)

	compression := tickdb.SnappyCompression
	if c.Compression == "none" {
		compression = tickdb.NoCompression
	}

	return &tickdb.Options{
		Stock:       c.Stock,
		Date:        date.UTC(),
		Depth:       c.Depth,
		Scale:       c.Scale,
		ChunkSize:   c.ChunkSize,
		Compression: compression,
		Logger:      logger,
	}
}
