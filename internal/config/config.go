// Package config defines the YAML configuration schema and its defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Chat    ChatConfig    `yaml:"chat"`
	Image   ImageConfig   `yaml:"image"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig points the client at the consultation backend.
type ServerConfig struct {
	BaseURL               string `yaml:"base_url"`
	Endpoint              string `yaml:"endpoint"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int    `yaml:"write_timeout_seconds"`
}

// ConnectTimeout returns the dial timeout as a duration.
func (s ServerConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

// ReadTimeout returns the full-exchange timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server-side response write bound as a
// duration. Only the mock server uses it.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ChatConfig bounds the conversation.
type ChatConfig struct {
	MaxHistoryMessages int `yaml:"max_history_messages"`
}

// ImageConfig bounds attachment processing.
type ImageConfig struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
	Quality   int `yaml:"quality"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns a fully-populated configuration for running without a
// config file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://127.0.0.1:8787"
	}
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = "/api/tcm_process"
	}
	if c.Server.ConnectTimeoutSeconds == 0 {
		c.Server.ConnectTimeoutSeconds = 30
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 120
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 60
	}
	if c.Chat.MaxHistoryMessages == 0 {
		c.Chat.MaxHistoryMessages = 50
	}
	if c.Image.MaxWidth == 0 {
		c.Image.MaxWidth = 800
	}
	if c.Image.MaxHeight == 0 {
		c.Image.MaxHeight = 800
	}
	if c.Image.Quality == 0 {
		c.Image.Quality = 80
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// defaultStoragePath places the database under the user home, falling
// back to the working directory when the home cannot be resolved.
func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "wenzhen.db"
	}
	return filepath.Join(home, ".wenzhen", "wenzhen.db")
}

// Validate checks the structural validity of a Config and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.BaseURL == "" {
		errs = append(errs, errors.New("config: server.base_url is required"))
	}
	if cfg.Server.ConnectTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("config: server.connect_timeout_seconds must not be negative, got %d", cfg.Server.ConnectTimeoutSeconds))
	}
	if cfg.Server.ReadTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("config: server.read_timeout_seconds must not be negative, got %d", cfg.Server.ReadTimeoutSeconds))
	}
	if cfg.Server.WriteTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("config: server.write_timeout_seconds must not be negative, got %d", cfg.Server.WriteTimeoutSeconds))
	}
	if cfg.Chat.MaxHistoryMessages < 2 {
		errs = append(errs, fmt.Errorf("config: chat.max_history_messages must be at least 2, got %d", cfg.Chat.MaxHistoryMessages))
	}
	if cfg.Image.MaxWidth < 1 || cfg.Image.MaxHeight < 1 {
		errs = append(errs, fmt.Errorf("config: image dimensions must be positive, got %dx%d", cfg.Image.MaxWidth, cfg.Image.MaxHeight))
	}
	if cfg.Image.Quality < 1 || cfg.Image.Quality > 100 {
		errs = append(errs, fmt.Errorf("config: image.quality must be 1-100, got %d", cfg.Image.Quality))
	}
	if cfg.Storage.Path == "" {
		errs = append(errs, errors.New("config: storage.path is required"))
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log level %q", cfg.Log.Level))
	}

	return errors.Join(errs...)
}
