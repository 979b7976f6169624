// Package config loads the gateway configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration.
type Config struct {
	// Supergraph is the path of the composed supergraph SDL.
	Supergraph string `yaml:"supergraph"`
	Listen     string `yaml:"listen"`
	// Subgraphs overrides the URLs declared by @join__graph, by name.
	Subgraphs map[string]string `yaml:"subgraphs,omitempty"`

	RequestTimeout     time.Duration `yaml:"request_timeout"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	PlanCacheSize      int           `yaml:"plan_cache_size"`
	MaxParallelFetches int           `yaml:"max_parallel_fetches"`

	ForwardHeaders []string `yaml:"forward_headers,omitempty"`
	CORSOrigins    []string `yaml:"cors_origins,omitempty"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`

	LogLevel string  `yaml:"log_level"`
	OTel     OTel    `yaml:"otel"`
	Metrics  Metrics `yaml:"metrics"`
}

// OTel configures trace export. Tracing is off when Endpoint is empty.
type OTel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Listen:         ":4000",
		RequestTimeout: 30 * time.Second,
		FetchTimeout:   10 * time.Second,
		PlanCacheSize:  512,
		ForwardHeaders: []string{"Authorization"},
		MaxBodyBytes:   1 << 20,
		LogLevel:       "info",
		OTel:           OTel{Service: "fedgate"},
		Metrics:        Metrics{Enabled: true, Path: "/metrics"},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.PlanCacheSize <= 0:
		return fmt.Errorf("plan_cache_size must be positive, got %d", c.PlanCacheSize)
	case c.RequestTimeout < 0:
		return fmt.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout)
	case c.FetchTimeout < 0:
		return fmt.Errorf("fetch_timeout must not be negative, got %s", c.FetchTimeout)
	case c.MaxParallelFetches < 0:
		return fmt.Errorf("max_parallel_fetches must not be negative, got %d", c.MaxParallelFetches)
	case c.MaxBodyBytes < 0:
		return fmt.Errorf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("metrics.path is required when metrics are enabled")
	}
	for name, url := range c.Subgraphs {
		if url == "" {
			return fmt.Errorf("subgraphs.%s: url is empty", name)
		}
	}
	return nil
}
