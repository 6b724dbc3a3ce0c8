// Package config provides configuration loading for the operator console.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/medmatrix/console/queue"
	"github.com/medmatrix/console/storage"
	"github.com/medmatrix/console/transport"
)

// Config represents the complete console configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	NATS   NATSConfig   `yaml:"nats"`
	Redis  RedisConfig  `yaml:"redis"`
	Queue  QueueConfig  `yaml:"queue"`
}

// ServerConfig configures the pipeline backend connection.
type ServerConfig struct {
	// BaseURL is the root URL of the pipeline backend API
	BaseURL string `yaml:"base_url"`
	// Timeout is the per-request timeout for backend calls
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the push-event connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty = no push transport)
	URL string `yaml:"url"`
	// SubjectPrefix is the subject step events arrive under; the
	// session id is appended as the last token
	SubjectPrefix string `yaml:"subject_prefix"`
	// Buffer is the in-flight event buffer size
	Buffer int `yaml:"buffer"`
}

// RedisConfig configures the optional Redis cache for task histories and
// review-queue snapshots.
type RedisConfig struct {
	// Addr is the Redis address (empty = in-memory storage)
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// QueueConfig configures the review-queue view.
type QueueConfig struct {
	// PageSize is the number of review items per page
	PageSize int `yaml:"page_size"`
	// RefreshInterval is how often the queue is re-fetched
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// PriorityOrder is the server-side sort hint, "desc" or "asc"
	PriorityOrder string `yaml:"priority_order"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: transport.DefaultSubjectPrefix,
			Buffer:        64,
		},
		Redis: RedisConfig{
			Addr:        "", // in-memory
			PoolSize:    10,
			IdleTimeout: 5 * time.Minute,
		},
		Queue: QueueConfig{
			PageSize:        5,
			RefreshInterval: 30 * time.Second,
			PriorityOrder:   string(queue.Desc),
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Queue.PageSize <= 0 {
		return fmt.Errorf("queue.page_size must be positive")
	}
	if c.Queue.RefreshInterval <= 0 {
		return fmt.Errorf("queue.refresh_interval must be positive")
	}
	switch queue.SortOrder(c.Queue.PriorityOrder) {
	case queue.Desc, queue.Asc:
	default:
		return fmt.Errorf("queue.priority_order must be %q or %q", queue.Desc, queue.Asc)
	}
	return nil
}

// RedisOptions maps the Redis section onto storage options. Only valid
// when Redis.Addr is set.
func (c *Config) RedisOptions() storage.RedisOptions {
	return storage.RedisOptions{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
		IdleTimeout:  c.Redis.IdleTimeout,
	}
}

// LoadFromFile loads configuration from a YAML file, layered over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
