// Package config loads the gateway configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents wabridge.toml.
type Config struct {
	// ListenAddr is the HTTP command surface bind address.
	ListenAddr string `toml:"listen_addr"`

	// DataDir holds the app database and per-user credential stores.
	DataDir string `toml:"data_dir"`

	// MediaDir holds downloaded message media. Defaults to DataDir/media.
	MediaDir string `toml:"media_dir"`

	// MaxReconnectAttempts bounds automatic reconnects after a transient
	// disconnect before the failure is escalated.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay duration `toml:"reconnect_delay"`

	// HistoryChunkSize is the number of history messages merged per
	// transaction during a backfill.
	HistoryChunkSize int `toml:"history_chunk_size"`

	// EventQueueSize is the per-user protocol event queue depth.
	EventQueueSize int `toml:"event_queue_size"`
}

type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Default returns a config with production defaults rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		ListenAddr:           "127.0.0.1:8490",
		DataDir:              dataDir,
		MediaDir:             filepath.Join(dataDir, "media"),
		MaxReconnectAttempts: 5,
		ReconnectDelay:       duration(5 * time.Second),
		HistoryChunkSize:     100,
		EventQueueSize:       256,
	}
}

// Load reads config from path, filling unset fields with defaults.
// A missing file yields pure defaults, not an error.
func Load(path, dataDir string) (*Config, error) {
	cfg := Default(dataDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.HistoryChunkSize <= 0 {
		return fmt.Errorf("history_chunk_size must be > 0, got %d", c.HistoryChunkSize)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("event_queue_size must be > 0, got %d", c.EventQueueSize)
	}
	return nil
}

// RetryDelay returns the reconnect delay as a time.Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.ReconnectDelay)
}

// AppDBPath returns the path of the gateway-owned database.
func (c *Config) AppDBPath() string {
	return filepath.Join(c.DataDir, "wabridge.db")
}

// UserDir returns the per-user directory holding credential material.
func (c *Config) UserDir(userID string) string {
	return filepath.Join(c.DataDir, "users", userID)
}

// CredentialDBPath returns the per-user protocol credential store path.
func (c *Config) CredentialDBPath(userID string) string {
	return filepath.Join(c.UserDir(userID), "session.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "wabridged.log")
}
