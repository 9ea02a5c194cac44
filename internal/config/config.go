package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. NUTRITION_SERVER_PORT.
const EnvPrefix = "NUTRITION"

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Source   SourceConfig
	Stream   StreamConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// AppConfig holds application-wide settings
type AppConfig struct {
	Env string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host             string
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration // 0 keeps event streams open indefinitely
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string
}

// SourceConfig holds settings for the external product database
type SourceConfig struct {
	Type      string // "openfoodfacts" or "none"
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// StreamConfig holds live feed settings
type StreamConfig struct {
	Keepalive  time.Duration // 0 disables keep-alive comments
	MaxPending int           // per-subscriber queue cap, 0 means unbounded
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// MetricsConfig holds prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
}

// GetConfigPath returns the configuration file named by NUTRITION_CONFIG, or
// an empty string to let Load search the default locations.
func GetConfigPath() string {
	return os.Getenv(EnvPrefix + "_CONFIG")
}

// Load loads configuration.
// Priority (highest to lowest):
// 1. Environment variables with NUTRITION_ prefix
// 2. The config file at configPath, or config.{yaml,toml,json} in . or ./config
// 3. Built-in defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Env: v.GetString("app.env"),
		},
		Server: ServerConfig{
			Host:             v.GetString("server.host"),
			Port:             v.GetString("server.port"),
			ReadTimeout:      v.GetDuration("server.read_timeout"),
			WriteTimeout:     v.GetDuration("server.write_timeout"),
			IdleTimeout:      v.GetDuration("server.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("server.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("server.cors_allow_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Source: SourceConfig{
			Type:      strings.ToLower(v.GetString("source.type")),
			BaseURL:   strings.TrimRight(v.GetString("source.base_url"), "/"),
			Timeout:   v.GetDuration("source.timeout"),
			UserAgent: v.GetString("source.user_agent"),
		},
		Stream: StreamConfig{
			Keepalive:  v.GetDuration("stream.keepalive"),
			MaxPending: v.GetInt("stream.max_pending"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_allow_origins", []string{"*"})

	v.SetDefault("database.path", "nutrition.db")

	v.SetDefault("source.type", "openfoodfacts")
	v.SetDefault("source.base_url", "https://world.openfoodfacts.net")
	v.SetDefault("source.timeout", 6*time.Second)
	v.SetDefault("source.user_agent", "IoT-WebUI/1.0")

	v.SetDefault("stream.keepalive", 30*time.Second)
	v.SetDefault("stream.max_pending", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("metrics.enabled", true)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is not set")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source timeout must be positive, got %s", c.Source.Timeout)
	}
	switch c.Source.Type {
	case "openfoodfacts":
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source base_url is required for openfoodfacts")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported source type: %s", c.Source.Type)
	}
	if c.Stream.MaxPending < 0 {
		return fmt.Errorf("stream max_pending must not be negative")
	}
	return nil
}
