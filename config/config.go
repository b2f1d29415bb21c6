// Package config loads the rewards service configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/rewards-engine/factory"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration of the rewards service.
type Config struct {
	ListenAddress   string              `yaml:"listen"`
	DatabasePath    string              `yaml:"database"`
	Environment     string              `yaml:"environment"`
	LockTimeout     Duration            `yaml:"lock_timeout"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"`
	Admins          []string            `yaml:"admins"`
	AdminsFile      string              `yaml:"admins_file"`
	Log             LogConfig           `yaml:"log"`
	RateLimit       RateLimitConfig     `yaml:"rate_limit"`
	CORS            CORSConfig          `yaml:"cors"`
	Reconcile       ReconcileConfig     `yaml:"reconcile"`
	Program         factory.ProgramSpec `yaml:"program"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RateLimitConfig bounds claim attempts per user.
type RateLimitConfig struct {
	Disabled  bool    `yaml:"disabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Rate returns the sustained rate to enforce; 0 means no limiting.
func (r RateLimitConfig) Rate() float64 {
	if r.Disabled {
		return 0
	}
	return r.PerSecond
}

// ReconcileConfig controls the background drift check.
type ReconcileConfig struct {
	Disabled bool     `yaml:"disabled"`
	Interval Duration `yaml:"interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.normaliseAdmins(); err != nil {
		return cfg, fmt.Errorf("admins: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./data/rewards.db"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LockTimeout.Duration == 0 {
		cfg.LockTimeout.Duration = 5 * time.Second
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 1
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.Reconcile.Interval.Duration == 0 {
		cfg.Reconcile.Interval.Duration = time.Hour
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
}

// normaliseAdmins merges admins_file (one id per line, # comments) into Admins.
func (c *Config) normaliseAdmins() error {
	ids := make([]string, 0, len(c.Admins))
	for _, id := range c.Admins {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if path := strings.TrimSpace(c.AdminsFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read admins_file: %w", err)
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			ids = append(ids, line)
		}
	}
	c.Admins = ids
	return nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("database must be configured")
	}
	if cfg.RateLimit.PerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if cfg.LockTimeout.Duration < 0 {
		return fmt.Errorf("lock_timeout must not be negative")
	}
	if cfg.Reconcile.Interval.Duration < 0 {
		return fmt.Errorf("reconcile.interval must not be negative")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	if _, err := factory.NewProgramFactory().FromSpec(cfg.Program); err != nil {
		return fmt.Errorf("program: %w", err)
	}
	return nil
}
