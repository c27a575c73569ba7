// Package config loads stageflow settings from defaults, an optional YAML
// file and STAGEFLOW_* environment variables, in increasing precedence.
package config

import (
	"time"
)

// Dir is the project directory holding the database, snapshot and config.
const Dir = ".stageflow"

// Config is the root configuration.
type Config struct {
	DB       DBConfig       `mapstructure:"db" yaml:"db"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	NATS     NATSConfig     `mapstructure:"nats" yaml:"nats"`
	Query    QueryConfig    `mapstructure:"query" yaml:"query"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HTTPConfig controls the JSON API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Metrics         bool          `mapstructure:"metrics" yaml:"metrics"`
}

// NATSConfig controls notification publishing. An empty URL disables it.
type NATSConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	MaxInFlight int    `mapstructure:"max_in_flight" yaml:"max_in_flight"`
}

// QueryConfig bounds list queries.
type QueryConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size" yaml:"max_page_size"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// SnapshotConfig controls the JSONL snapshot written after each change.
type SnapshotConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	Auto bool   `mapstructure:"auto" yaml:"auto"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB: DBConfig{Path: Dir + "/stageflow.db"},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		NATS: NATSConfig{
			Prefix:      "stageflow",
			MaxInFlight: 32,
		},
		Query: QueryConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Log: LogConfig{
			Level:      "info",
			File:       Dir + "/logs/stageflow.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Snapshot: SnapshotConfig{
			Path: Dir + "/snapshot.jsonl",
			Auto: false,
		},
	}
}
