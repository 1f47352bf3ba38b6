// Package config loads the dispatcher's JSON configuration file and
// applies environment overrides on top of it.
package config

import (
	"encoding/json"
	"os"
)

// Config is the full dispatcher configuration, mirroring the on-disk
// JSON shape.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	CORS struct {
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"cors"`

	Security struct {
		APIKeyRequired bool     `json:"api_key_required"`
		APIKeys        []string `json:"api_keys"`
	} `json:"security"`

	Database struct {
		Type string `json:"type"` // "memory" or "sqlite"
		Path string `json:"path"`
	} `json:"database"`

	TaskAssignment struct {
		Strategy    string `json:"strategy"`
		MaxRetries  int    `json:"max_retries"`
		RetryDelay  int    `json:"retry_delay"` // seconds
	} `json:"task_assignment"`

	WorkerManagement struct {
		HeartbeatInterval int  `json:"heartbeat_interval"` // seconds
		HeartbeatTimeout  int  `json:"heartbeat_timeout"`  // seconds
		AutoRemoveOffline bool `json:"auto_remove_offline"`
		OfflineThreshold  int  `json:"offline_threshold"` // seconds
	} `json:"worker_management"`
}

// Default returns a Config populated with the dispatcher's documented
// defaults.
func Default() *Config {
	c := &Config{
		Host: "0.0.0.0",
		Port: 8000,
	}
	c.CORS.AllowedOrigins = []string{"http://localhost:8080"}
	c.Database.Type = "memory"
	c.Database.Path = "data/dispatcher.db"
	c.TaskAssignment.Strategy = "least_loaded"
	c.TaskAssignment.MaxRetries = 3
	c.TaskAssignment.RetryDelay = 300
	c.WorkerManagement.HeartbeatInterval = 30
	c.WorkerManagement.HeartbeatTimeout = 90
	c.WorkerManagement.AutoRemoveOffline = true
	c.WorkerManagement.OfflineThreshold = 300
	return c
}

// Load reads path and merges it onto Default. A missing file is not an
// error — the caller gets built-in defaults so a fresh checkout can run
// unconfigured.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies deployment env vars, which win over both
// the file and the built-in default.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISPATCHER_DB_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("DISPATCHER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// ConfigPath resolves the configuration file path from CONFIG_PATH,
// falling back to the conventional default location.
func ConfigPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config/dispatcher.json"
}
