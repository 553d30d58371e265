package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the global ~/.chatlog/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session" env:"CHATLOG_DEFAULT_SESSION"`
	History        HistoryConfig `toml:"history"`
	API            APIConfig     `toml:"api"`
	Metrics        MetricsConfig `toml:"metrics"`
	Logging        LoggingConfig `toml:"logging"`
}

// HistoryConfig tunes the writer, the query engine and live queries.
type HistoryConfig struct {
	DefaultSubject string        `toml:"default_subject" env:"CHATLOG_HISTORY_DEFAULT_SUBJECT"`
	StorageTimeout time.Duration `toml:"storage_timeout" env:"CHATLOG_HISTORY_STORAGE_TIMEOUT"`
	RecentLimit    int           `toml:"recent_limit" env:"CHATLOG_HISTORY_RECENT_LIMIT"`
	PhoneRegion    string        `toml:"phone_region" env:"CHATLOG_HISTORY_PHONE_REGION"`
	CacheSize      int           `toml:"cache_size" env:"CHATLOG_HISTORY_CACHE_SIZE"`
}

// APIConfig limits write RPCs. A zero rate disables limiting. SendQueue
// bounds the outgoing messages waiting for delivery.
type APIConfig struct {
	WriteRate  float64 `toml:"write_rate" env:"CHATLOG_API_WRITE_RATE"`
	WriteBurst int     `toml:"write_burst" env:"CHATLOG_API_WRITE_BURST"`
	SendQueue  int     `toml:"send_queue" env:"CHATLOG_API_SEND_QUEUE"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr" env:"CHATLOG_METRICS_ADDR"`
}

type LoggingConfig struct {
	Level string `toml:"level" env:"CHATLOG_LOGGING_LEVEL"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		History: HistoryConfig{
			DefaultSubject: "Group chat",
			StorageTimeout: 5 * time.Second,
			RecentLimit:    20,
			PhoneRegion:    "US",
			CacheSize:      1024,
		},
		API: APIConfig{
			WriteRate:  50,
			WriteBurst: 100,
			SendQueue:  64,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of the defaults and applies
// CHATLOG_* environment overrides. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := env.Parse(cfg); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
		return cfg, nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
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
