// Package config loads engine configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/scoring"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML strings like "30s" or "4h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full engine configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		// URL is the Postgres DSN; empty runs the engine on in-memory
		// stores (useful for local development and tests).
		URL string `yaml:"url"`
	} `yaml:"database"`

	Scoring struct {
		Weights scoring.Weights `yaml:"weights"`
	} `yaml:"scoring"`

	SLA struct {
		Default    Duration            `yaml:"default"`
		Categories map[string]Duration `yaml:"categories"`
	} `yaml:"sla"`

	Engine struct {
		Workers         int      `yaml:"workers"`
		QueueSize       int      `yaml:"queueSize"`
		SweepInterval   Duration `yaml:"sweepInterval"`
		ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	} `yaml:"engine"`

	Dispatch struct {
		Timeout              Duration `yaml:"timeout"`
		MaxAttempts          int      `yaml:"maxAttempts"`
		WebhookURL           string   `yaml:"webhookUrl"`
		NotificationFeedSize int      `yaml:"notificationFeedSize"`
	} `yaml:"dispatch"`

	Categories []string `yaml:"categories"`

	Snapshots struct {
		MaxEntities int `yaml:"maxEntities"`
	} `yaml:"snapshots"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Scoring.Weights = scoring.DefaultWeights()
	cfg.SLA.Default = Duration(72 * time.Hour)
	cfg.SLA.Categories = map[string]Duration{
		"supply":    Duration(24 * time.Hour),
		"inventory": Duration(4 * time.Hour),
		"demand":    Duration(48 * time.Hour),
		"cost":      Duration(72 * time.Hour),
	}
	cfg.Engine.SweepInterval = Duration(30 * time.Second)
	cfg.Engine.ShutdownTimeout = Duration(10 * time.Second)
	cfg.Engine.QueueSize = 1024
	cfg.Dispatch.Timeout = Duration(5 * time.Second)
	cfg.Dispatch.MaxAttempts = 3
	cfg.Dispatch.NotificationFeedSize = 200
	cfg.Categories = alert.DefaultCategories
	cfg.Snapshots.MaxEntities = 100000
	return cfg
}

// Load reads the YAML file (when path is non-empty), applies env
// overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Scoring.Weights.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("at least one rule category is required")
	}
	return cfg, nil
}

// SLAWindows converts the configured category windows for the lifecycle
// manager.
func (c *Config) SLAWindows() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.SLA.Categories)+len(c.Categories))
	for _, cat := range c.Categories {
		out[cat] = c.SLA.Default.Std()
	}
	for cat, d := range c.SLA.Categories {
		out[cat] = d.Std()
	}
	return out
}
