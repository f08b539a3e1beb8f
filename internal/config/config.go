// Package config loads the global ~/.wacrm/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds daemon settings shared by all sessions.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ListenAddr is the HTTP/websocket bind address for the gateway.
	ListenAddr string `toml:"listen_addr"`
	// AuthToken guards the gateway API. Empty disables auth; the daemon
	// then relies on its loopback-only default bind.
	AuthToken string `toml:"auth_token"`

	// ReminderPollInterval is the delay between reminder worker ticks.
	ReminderPollInterval duration `toml:"reminder_poll_interval"`
	// ReminderBatchSize caps due reminders processed per tick.
	ReminderBatchSize int `toml:"reminder_batch_size"`

	// SyncMediaConcurrency bounds parallel attachment downloads during a
	// full chat sync.
	SyncMediaConcurrency int `toml:"sync_media_concurrency"`
	// MessageRetention is the number of messages kept per chat.
	MessageRetention int `toml:"message_retention"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession:       "main",
		ListenAddr:           "127.0.0.1:8377",
		ReminderPollInterval: duration{5 * time.Second},
		ReminderBatchSize:    20,
		SyncMediaConcurrency: 2,
		MessageRetention:     500,
	}
}

// Load reads config from path, filling unset fields with defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.ReminderPollInterval.Duration <= 0 {
		c.ReminderPollInterval = def.ReminderPollInterval
	}
	if c.ReminderBatchSize <= 0 {
		c.ReminderBatchSize = def.ReminderBatchSize
	}
	if c.SyncMediaConcurrency <= 0 {
		c.SyncMediaConcurrency = def.SyncMediaConcurrency
	}
	if c.MessageRetention <= 0 {
		c.MessageRetention = def.MessageRetention
	}
}

// PollInterval returns the reminder poll interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return c.ReminderPollInterval.Duration
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
