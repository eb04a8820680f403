package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PollingProfile is one named polling configuration as written in polling.yaml.
type PollingProfile struct {
	BaseIntervalMS int `yaml:"base_interval_ms"`
	MaxIntervalMS  int `yaml:"max_interval_ms"`
	ActiveWindowMS int `yaml:"active_window_ms"`
	FetchTimeoutMS int `yaml:"fetch_timeout_ms"`
}

func (p PollingProfile) BaseInterval() time.Duration {
	return time.Duration(p.BaseIntervalMS) * time.Millisecond
}

func (p PollingProfile) MaxInterval() time.Duration {
	return time.Duration(p.MaxIntervalMS) * time.Millisecond
}

func (p PollingProfile) ActiveWindow() time.Duration {
	return time.Duration(p.ActiveWindowMS) * time.Millisecond
}

func (p PollingProfile) FetchTimeout() time.Duration {
	return time.Duration(p.FetchTimeoutMS) * time.Millisecond
}

// PollingConfig holds the client's polling profiles.
type PollingConfig struct {
	Conversations PollingProfile `yaml:"conversations"`
	Messages      PollingProfile `yaml:"messages"`
}

// DefaultPolling returns the stock profiles: conversations every 5s and the
// open thread every 3s, both backing off to 30s.
func DefaultPolling() *PollingConfig {
	return &PollingConfig{
		Conversations: PollingProfile{
			BaseIntervalMS: 5000,
			MaxIntervalMS:  30000,
			ActiveWindowMS: 60000,
			FetchTimeoutMS: 10000,
		},
		Messages: PollingProfile{
			BaseIntervalMS: 3000,
			MaxIntervalMS:  30000,
			ActiveWindowMS: 60000,
			FetchTimeoutMS: 10000,
		},
	}
}

// LoadPolling reads polling profiles from path. Missing fields keep their
// defaults. An empty path returns the defaults.
func LoadPolling(path string) (*PollingConfig, error) {
	cfg := DefaultPolling()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading polling config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing polling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects profiles the scheduler cannot run.
func (c *PollingConfig) Validate() error {
	for name, p := range map[string]PollingProfile{"conversations": c.Conversations, "messages": c.Messages} {
		if p.BaseIntervalMS <= 0 {
			return fmt.Errorf("polling.%s: base_interval_ms must be positive", name)
		}
		if p.MaxIntervalMS < p.BaseIntervalMS {
			return fmt.Errorf("polling.%s: max_interval_ms must be >= base_interval_ms", name)
		}
		if p.FetchTimeoutMS < 0 {
			return fmt.Errorf("polling.%s: fetch_timeout_ms must not be negative", name)
		}
	}
	return nil
}
