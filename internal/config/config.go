// Package config loads the YAML server configuration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annoserv/annostore/pkg/search"
)

// Config is the full server configuration. Every field has a working
// default, so an empty or missing file starts a usable server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Search  search.Config `yaml:"search"`
	Index   IndexConfig   `yaml:"index"`
	Tasks   TasksConfig   `yaml:"tasks"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"` // listen address, host:port
}

// StorageConfig configures the document store.
type StorageConfig struct {
	Dir      string `yaml:"dir"`       // database directory
	InMemory bool   `yaml:"in_memory"` // volatile store, for development
}

// IndexConfig configures the index lifecycle manager.
type IndexConfig struct {
	ChoreTTL time.Duration `yaml:"chore_ttl"` // retention of finished chores
}

// TasksConfig configures background tasks and the worker pool.
type TasksConfig struct {
	Workers int64         `yaml:"workers"`  // bounded pool size
	TaskTTL time.Duration `yaml:"task_ttl"` // retention of finished tasks
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console output for development
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8585"},
		Storage: StorageConfig{Dir: "data"},
		Search: search.Config{
			TTL:      search.DefaultTTL,
			Capacity: search.DefaultCapacity,
			PageSize: search.DefaultPageSize,
		},
		Index: IndexConfig{ChoreTTL: 10 * time.Minute},
		Tasks: TasksConfig{Workers: 4, TaskTTL: 10 * time.Minute},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads the config file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
