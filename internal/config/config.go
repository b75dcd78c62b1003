package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration for the feature engine binaries.
type Config struct {
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	ClickHouse struct {
		DSN string `yaml:"dsn"`
	} `yaml:"clickhouse"`
	Compute struct {
		Workers    int           `yaml:"workers"`
		MaxRetries int           `yaml:"max_retries"`
		Backoff    time.Duration `yaml:"backoff"`
	} `yaml:"compute"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
	// Targets name the (timeframe, periods) sets one batch run computes.
	Targets []Target `yaml:"targets"`
}

// Target selects one timeframe and the EMA periods to maintain on it.
// HorizonAlpha switches a tf_day timeframe to the days-horizon variant.
type Target struct {
	Timeframe    string `yaml:"timeframe"`
	Periods      []int  `yaml:"periods"`
	HorizonAlpha bool   `yaml:"horizon_alpha"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// ${VAR} references resolve against the environment, so DSN
	// credentials can stay out of the file.
	expanded := os.ExpandEnv(string(b))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides connection settings
// with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.ClickHouse.DSN = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Compute.Workers <= 0 {
		c.Compute.Workers = 4
	}
	if c.Compute.MaxRetries <= 0 {
		c.Compute.MaxRetries = 3
	}
	if c.Compute.Backoff <= 0 {
		c.Compute.Backoff = 2 * time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9102"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.ClickHouse.DSN == "" {
		return fmt.Errorf("clickhouse.dsn is required")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("targets cannot be empty")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.Timeframe == "" {
			return fmt.Errorf("targets[%d].timeframe is required", i)
		}
		key := t.Timeframe
		if t.HorizonAlpha {
			key += "+horizon"
		}
		if seen[key] {
			return fmt.Errorf("duplicate target '%s'", key)
		}
		seen[key] = true
		if len(t.Periods) == 0 {
			return fmt.Errorf("targets[%d].periods cannot be empty", i)
		}
		for _, p := range t.Periods {
			if p <= 0 {
				return fmt.Errorf("targets[%d]: period must be positive, got %d", i, p)
			}
		}
	}
	return nil
}

// String renders the config with credentials redacted, for startup logs.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "targets=%d workers=%d retries=%d backoff=%s",
		len(c.Targets), c.Compute.Workers, c.Compute.MaxRetries, c.Compute.Backoff)
	if c.Metrics.Enabled {
		fmt.Fprintf(&b, " metrics=%s", c.Metrics.Addr)
	}
	return b.String()
}
