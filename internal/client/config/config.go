// Package config loads runtime configuration for the sync agent.
//
// Sources & precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
package config

import "time"

// Config holds runtime settings for the podvault sync agent.
type Config struct {
	// ServerBaseURL is the http(s) base of the sync server.
	ServerBaseURL string
	// DatabasePath is the local SQLite file.
	DatabasePath string
	// SyncInterval is the periodic sync cadence.
	SyncInterval time.Duration
	// PushBatchSize caps one outbox drain round.
	PushBatchSize int
	// PullPageSize is the page size requested from the server.
	PullPageSize int
	// MaxRetries bounds automatic outbox retries before an item freezes.
	MaxRetries int
	// RealtimeEnabled opens the server-push subscription.
	RealtimeEnabled bool
	// AuthToken is the bearer token presented to the sync server.
	AuthToken string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "podvault.db"
	c.SyncInterval = 30 * time.Second
	c.PushBatchSize = 50
	c.PullPageSize = 100
	c.MaxRetries = 5
	c.RealtimeEnabled = true
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
