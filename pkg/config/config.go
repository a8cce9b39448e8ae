// Package config loads the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the engine and CLI configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Query    QueryConfig    `yaml:"query"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Name        string `yaml:"name"`
	DataDir     string `yaml:"data_dir"`     // empty = purely in-memory
	SaveOnExit  bool   `yaml:"save_on_exit"` // snapshot on shutdown when data_dir is set
	Codec       string `yaml:"codec"`        // snapshot compression: zstd, snappy, none
	Compression int    `yaml:"compression"`  // zstd level 1-4
}

// QueryConfig holds execution settings.
type QueryConfig struct {
	Workers           int    `yaml:"workers"`            // pool size for parallel scans and $facet
	ParallelThreshold int    `yaml:"parallel_threshold"` // min documents before scanning in parallel
	SampleSeed        uint64 `yaml:"sample_seed"`        // 0 = random
	FilterCache       int    `yaml:"filter_cache"`       // compiled filters kept; 0 = default, -1 = off
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, console
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. ${VAR} and ${VAR:-default}
// are replaced from the environment before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Database.Name == "" {
		c.Database.Name = "default"
	}
	if c.Database.Codec == "" {
		c.Database.Codec = "zstd"
	}
	if c.Database.Compression <= 0 {
		c.Database.Compression = 2
	}
	if c.Query.Workers <= 0 {
		c.Query.Workers = 4
	}
	if c.Query.ParallelThreshold <= 0 {
		c.Query.ParallelThreshold = 1000
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Database.Codec {
	case "zstd", "snappy", "none":
	default:
		return fmt.Errorf("database.codec must be one of zstd, snappy, none, got %q", c.Database.Codec)
	}
	if c.Database.Compression > 4 {
		return fmt.Errorf("database.compression must be between 1 and 4, got %d", c.Database.Compression)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
