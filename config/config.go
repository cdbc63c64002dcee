// Package config loads the canvasd and editor configuration through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meikuraledutech/canvas/session"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CANVAS_SERVER_ADDR.
const EnvPrefix = "CANVAS"

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Config is the root of the configuration tree.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Badger   BadgerConfig   `mapstructure:"badger"`
	Client   ClientConfig   `mapstructure:"client"`
	Editor   session.Config `mapstructure:"editor"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	APIToken        string        `mapstructure:"api_token"`
	BodyLimit       int           `mapstructure:"body_limit"`
	HubBuffer       int           `mapstructure:"hub_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the canvas.Store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// ClientConfig points the editor at a canvas API.
type ClientConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers a default for every key so env overrides resolve
// and a minimal config file is enough.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "canvasd")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.body_limit", 4*1024*1024)
	v.SetDefault("server.hub_buffer", 64)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", DriverBadger)
	v.SetDefault("postgres.url", "")
	v.SetDefault("badger.dir", "./data")
	v.SetDefault("badger.in_memory", false)

	v.SetDefault("client.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("client.stream_url", "ws://localhost:8000")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", 30*time.Second)

	ed := session.DefaultConfig()
	v.SetDefault("editor.save_delay", ed.SaveDelay)
	v.SetDefault("editor.save_timeout", ed.SaveTimeout)
	v.SetDefault("editor.history_limit", ed.HistoryLimit)
	v.SetDefault("editor.read_only", false)
}

// NewViper returns a viper with defaults and CANVAS_* env overrides. When
// file is set it is read; otherwise ./canvas.yaml is read if present.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("canvas")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the binaries cannot run without.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverBadger:
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			return errors.New("config: badger.dir is required unless badger.in_memory is set")
		}
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return errors.New("config: postgres.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Server.BodyLimit < 0 || c.Server.HubBuffer < 0 {
		return errors.New("config: server.body_limit and server.hub_buffer must not be negative")
	}
	if c.Editor.SaveDelay < 0 || c.Editor.SaveTimeout < 0 || c.Editor.HistoryLimit < 0 {
		return errors.New("config: editor values must not be negative")
	}
	return nil
}
