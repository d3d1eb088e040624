// Package config provides configuration loading for the celrix server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/celrix/celrix"
)

// Config holds all configuration for the server process.
type Config struct {
	Debug  bool         `yaml:"debug"`
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Vector VectorConfig `yaml:"vector"`
}

// ServerConfig holds listener and worker-pool settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	KVWorkers     int    `yaml:"kv_workers"`     // 0 = core count
	VectorWorkers int    `yaml:"vector_workers"` // 0 = default 4
	QueueCapacity int    `yaml:"queue_capacity"`
	MaxPayload    uint32 `yaml:"max_payload"`
	PinWorkers    *bool  `yaml:"pin_workers"`
}

// PinWorkersOrDefault returns whether KV workers are pinned; defaults to true.
func (s *ServerConfig) PinWorkersOrDefault() bool {
	if s.PinWorkers != nil {
		return *s.PinWorkers
	}
	return true
}

// StoreConfig holds KV store and reaper settings.
type StoreConfig struct {
	NumShards      int `yaml:"num_shards"` // 0 = derived from workers
	MaxValueSize   int `yaml:"max_value_size"`
	ReapIntervalMS int `yaml:"reap_interval_ms"`
	ReapSampleSize int `yaml:"reap_sample_size"`
}

// ReapInterval returns the reaper cycle interval.
func (s *StoreConfig) ReapInterval() time.Duration {
	return time.Duration(s.ReapIntervalMS) * time.Millisecond
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	// Dimension fixes the index dimension. 0 selects the default of 1536;
	// -1 defers the dimension to the first VADD.
	Dimension int `yaml:"dimension"`
}

// Load reads and parses the config file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ListenAddr returns the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel returns the slog level selected by the config.
func (c *Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// ServerOptions maps the config onto celrix server options.
func (c *Config) ServerOptions(logger *celrix.Logger) []celrix.Option {
	return []celrix.Option{
		celrix.WithLogger(logger),
		celrix.WithKVWorkers(c.Server.KVWorkers),
		celrix.WithVectorWorkers(c.Server.VectorWorkers),
		celrix.WithQueueCapacity(c.Server.QueueCapacity),
		celrix.WithMaxPayload(c.Server.MaxPayload),
		celrix.WithPinning(c.Server.PinWorkersOrDefault()),
		celrix.WithNumShards(c.Store.NumShards),
		celrix.WithMaxValueSize(c.Store.MaxValueSize),
		celrix.WithReaper(c.Store.ReapInterval(), c.Store.ReapSampleSize),
		celrix.WithVectorDimension(max(c.Vector.Dimension, 0)),
	}
}
