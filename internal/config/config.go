// ABOUTME: Configuration loading and parsing for the ui-kit server.
// ABOUTME: YAML files with environment variable expansion and sane defaults.

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the complete ui-kit server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cortex   CortexConfig   `yaml:"cortex"`
	Database DatabaseConfig `yaml:"database"`
	CORS     CORSConfig     `yaml:"cors"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// CortexConfig holds the workflow-execution API endpoint.
type CortexConfig struct {
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig holds the local conversation cache location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CORSConfig holds allowed origins for the relay endpoint.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values. Unset
// variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads a config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":3001"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/ui-kit.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}
	return nil
}
