// Package config loads server configuration from an optional YAML file
// with environment overrides for deployment knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the server.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	RedisAddr    string `yaml:"redis_addr"`
	CookieSecret string `yaml:"cookie_secret"`

	// PollTimeout bounds every long-poll wait. Liveness records expire
	// after LivenessTTL, which defaults to twice the poll timeout so a
	// single missed poll never drops a user.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	LivenessTTL time.Duration `yaml:"liveness_ttl"`

	// SweepPeriod is the reconciliation cadence; defaults to PollTimeout.
	SweepPeriod time.Duration `yaml:"sweep_period"`

	// HistoryLimit caps the tail window returned by message reads.
	HistoryLimit int `yaml:"history_limit"`

	// RateLimitMax requests per RateLimitWindow per IP on register and
	// send. 0 disables limiting.
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// BlockedRooms are hidden from listings and unreachable by URL.
	BlockedRooms []string `yaml:"blocked_rooms"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		RedisAddr:       "localhost:6379",
		CookieSecret:    "change-me-in-production",
		PollTimeout:     30 * time.Second,
		HistoryLimit:    255,
		RateLimitMax:    30,
		RateLimitWindow: time.Minute,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg.normalized(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.PollTimeout <= 0 {
		return Config{}, fmt.Errorf("config: poll_timeout must be positive")
	}
	return cfg.normalized(), nil
}

// ApplyEnv overlays the deployment environment variables.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("COOKIE_SECRET"); v != "" {
		c.CookieSecret = v
	}
	return c
}

func (c Config) normalized() Config {
	if c.LivenessTTL <= 0 {
		c.LivenessTTL = 2 * c.PollTimeout
	}
	if c.SweepPeriod <= 0 {
		c.SweepPeriod = c.PollTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 255
	}
	return c
}
