package assist

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all assistant configuration.
type Config struct {
	DBPath      string            `yaml:"db_path"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Retry       RetryConfig       `yaml:"retry"`
	AutoSuggest AutoSuggestConfig `yaml:"auto_suggest"`
	Persist     PersistConfig     `yaml:"persist"`
}

// UpstreamConfig points at the AI suggestion service.
type UpstreamConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetryConfig controls backoff for transient upstream failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// AutoSuggestConfig controls the idle-edit suggestion trigger.
type AutoSuggestConfig struct {
	Enabled       bool          `yaml:"enabled"`
	EditThreshold int           `yaml:"edit_threshold"`
	Debounce      time.Duration `yaml:"debounce"`
}

// PersistConfig controls the save coordinator.
type PersistConfig struct {
	FlushCycles int           `yaml:"flush_cycles"`
	FlushPause  time.Duration `yaml:"flush_pause"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	// RemoteEndpoint, when set, saves through the builder backend instead
	// of the local database.
	RemoteEndpoint string `yaml:"remote_endpoint"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "webeenthere.db"
	}
	if c.Upstream.Endpoint == "" {
		c.Upstream.Endpoint = "http://localhost:5000/api/ai/generate"
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = 90 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 8 * time.Second
	}
	if c.AutoSuggest.EditThreshold <= 0 {
		c.AutoSuggest.EditThreshold = 5
	}
	if c.AutoSuggest.Debounce <= 0 {
		c.AutoSuggest.Debounce = 2 * time.Second
	}
	if c.Persist.FlushCycles <= 0 {
		c.Persist.FlushCycles = 3
	}
	if c.Persist.FlushPause <= 0 {
		c.Persist.FlushPause = 50 * time.Millisecond
	}
	if c.Persist.MaxRetries <= 0 {
		c.Persist.MaxRetries = 3
	}
	if c.Persist.RetryDelay <= 0 {
		c.Persist.RetryDelay = 200 * time.Millisecond
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}
