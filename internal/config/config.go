// Package config loads coordinator configuration via viper, recognizing the
// dotted keys global.connection.address/port, server.logging,
// server.verbose, and a persistence sub-tree.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the typed shape of the recognized configuration options.
type Config struct {
	Global      Global      `mapstructure:"global"`
	Server      Server      `mapstructure:"server"`
	Persistence Persistence `mapstructure:"persistence"`
}

// Global holds the fabric-wide connection settings.
type Global struct {
	Connection Connection `mapstructure:"connection"`
}

// Connection is the TCP bind address for the dispatch listener.
type Connection struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// Server holds coordinator-process behavior flags.
type Server struct {
	Logging bool `mapstructure:"logging"`
	Verbose bool `mapstructure:"verbose"`
	// HTTPAddr is where /healthz and /metrics are served.
	HTTPAddr string `mapstructure:"http_addr"`
}

// Persistence is backend-specific sub-configuration. Only the fields the
// gormstore backend understands are named here; memstore ignores this
// entirely.
type Persistence struct {
	Backend string `mapstructure:"backend"` // "memory", "sqlite", "postgres"
	DSN     string `mapstructure:"dsn"`
}

// New builds a *viper.Viper bound to the recognized keys, layering
// environment variables (CAMPSD_ prefixed, dots replaced by underscores)
// over the defaults below.
func New() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("CAMPSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// SetDefaults installs the baseline configuration values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("global.connection.address", "0.0.0.0")
	v.SetDefault("global.connection.port", 9000)

	v.SetDefault("server.logging", false)
	v.SetDefault("server.verbose", true)
	v.SetDefault("server.http_addr", ":9090")

	v.SetDefault("persistence.backend", "memory")
	v.SetDefault("persistence.dsn", "camps.db")
}

// Load reads configuration from an optional file path (if non-empty) merged
// over environment variables and defaults, and unmarshals it into Config.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
