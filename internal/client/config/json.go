package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ddanilov/podvault/internal/flagx"
	"github.com/ddanilov/podvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be given either as strings like "30s" or
// as integer nanoseconds.
type JsonConfig struct {
	ServerBaseURL   string         `json:"server_base_url"`
	DatabasePath    string         `json:"database_path"`
	SyncInterval    timex.Duration `json:"sync_interval"`
	PushBatchSize   int            `json:"push_batch_size"`
	PullPageSize    int            `json:"pull_page_size"`
	MaxRetries      int            `json:"max_retries"`
	RealtimeEnabled *bool          `json:"realtime_enabled"`
	AuthToken       string         `json:"auth_token"`
}

// parseJson overlays cfg with values loaded from the JSON file given via
// the -c or -config flags. Absent file means no overlay; unreadable or
// invalid JSON panics.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerBaseURL != "" {
		cfg.ServerBaseURL = jc.ServerBaseURL
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.PushBatchSize != 0 {
		cfg.PushBatchSize = jc.PushBatchSize
	}
	if jc.PullPageSize != 0 {
		cfg.PullPageSize = jc.PullPageSize
	}
	if jc.MaxRetries != 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.RealtimeEnabled != nil {
		cfg.RealtimeEnabled = *jc.RealtimeEnabled
	}
	if jc.AuthToken != "" {
		cfg.AuthToken = jc.AuthToken
	}
}
