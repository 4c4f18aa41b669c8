package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the messenger configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Messages MessagesConfig `yaml:"messages"`
}

// ServerConfig holds network listener settings.
type ServerConfig struct {
	SSHPort     int    `yaml:"ssh_port" env:"SSH_PORT"`
	HealthPort  int    `yaml:"health_port" env:"HEALTH_PORT"`
	MaxSessions int    `yaml:"max_sessions" env:"MAX_SESSIONS"`
	HostKey     string `yaml:"host_key" env:"HOST_KEY"`
}

// PathsConfig holds filesystem paths for data and logs.
type PathsConfig struct {
	Data     string `yaml:"data" env:"DATA"`
	Database string `yaml:"database" env:"DATABASE"`
	LogFile  string `yaml:"log_file" env:"LOG_FILE"`
}

// MessagesConfig holds limits for the direct-message core.
type MessagesConfig struct {
	MaxLength        int `yaml:"max_length" env:"MAX_LENGTH"`
	DirectoryWorkers int `yaml:"directory_workers" env:"DIRECTORY_WORKERS"`
}

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TWILIGHT_DM_"

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			SSHPort:     2222,
			HealthPort:  2223,
			MaxSessions: 64,
			HostKey:     "./data/ssh_host_key",
		},
		Paths: PathsConfig{
			Data:     "./data",
			Database: "./data/twilight_dm.db",
			LogFile:  "./data/dm.log",
		},
		Messages: MessagesConfig{
			MaxLength:        8192,
			DirectoryWorkers: 4,
		},
	}
}

// Load reads and parses a YAML config file, then applies environment
// overrides. A missing file is not an error: defaults and environment
// still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays TWILIGHT_DM_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	opts := env.Options{Prefix: EnvPrefix}
	for _, target := range []any{&cfg.Server, &cfg.Paths, &cfg.Messages} {
		if err := env.ParseWithOptions(target, opts); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if c.Paths.Database == "" {
		return fmt.Errorf("paths.database must be set")
	}
	if c.Messages.MaxLength <= 0 {
		return fmt.Errorf("messages.max_length must be positive")
	}
	if c.Messages.DirectoryWorkers <= 0 {
		c.Messages.DirectoryWorkers = 1
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive")
	}
	return nil
}
