package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultBaseKey is the well-known bootstrap Fernet key every connection
// starts on. It is only a bootstrap: a successful login rekeys the
// connection. Deployments override it via TALK2ME_WIRE_BASE_KEY.
const DefaultBaseKey = "Ms_I0iVjanNosloNcbssrsCk-7MxGSQZNt5_C8UT66E="

// Config holds all runtime configuration for a Talk2Me server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Wire    WireConfig    `mapstructure:"wire"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network level settings for the TCP listener and
// the federation topology.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// ChatServers lists host:port addresses of delegated chat servers.
	// Empty means a single-server deployment (or this process IS a chat
	// server).
	ChatServers []string `mapstructure:"chat_servers"`

	// RateLimit caps inbound frames per second per connection. Zero
	// disables the limiter.
	RateLimit float64 `mapstructure:"rate_limit"`

	// DialTimeout bounds outbound federation connections.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// WireConfig controls the Fernet envelope.
type WireConfig struct {
	BaseKey string `mapstructure:"base_key"`
}

// StoreConfig controls snapshot persistence.
type StoreConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// MetricsConfig controls the Prometheus/diagnostics endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls zap logger level/encoding and frame logging.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`

	// Frames enables plaintext logging of every frame in both
	// directions. Also switched on by TALK2ME_LOG=on.
	Frames bool `mapstructure:"frames"`
}

// Addr is the listen address of the server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsFront reports whether this process delegates chats to a fleet.
func (c ServerConfig) IsFront() bool { return len(c.ChatServers) > 0 }

// Load reads configuration from environment variables and an optional
// talk2me.yaml config file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9999)
	v.SetDefault("server.chat_servers", []string{})
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.dial_timeout", 3*time.Second)

	v.SetDefault("wire.base_key", DefaultBaseKey)

	v.SetDefault("store.snapshot_path", "backup.json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9100")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.frames", false)

	v.SetConfigName("talk2me")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("TALK2ME")
	// Nested keys use dots; the env form uses underscores
	// (wire.base_key -> TALK2ME_WIRE_BASE_KEY).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	// Historical switch carried over from the first deployment.
	if os.Getenv("TALK2ME_LOG") == "on" {
		cfg.Logging.Frames = true
	}

	if cfg.Server.DialTimeout <= 0 {
		cfg.Server.DialTimeout = 3 * time.Second
	}

	return cfg, nil
}
