// Package config loads copycat settings from flags, the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "COPYCAT"
	configFileName = "config"
)

var (
	ErrNoAPIBase  = errors.New("config: api_base is required")
	ErrBadAPIBase = errors.New("config: api_base must be an http or https url")
)

var (
	home, _ = os.UserHomeDir()

	DefaultDestinationRoot = filepath.Join(home, "CopyCat")
)

// StreamConfig tunes the progress stream connection
type StreamConfig struct {
	ReconnectDelay   time.Duration
	GraceDelay       time.Duration
	HandshakeTimeout time.Duration
}

// ServerConfig configures the development server
type ServerConfig struct {
	Port            int
	SourceRoot      string
	DestinationRoot string
	CORSOrigins     []string
	Workers         int
	GinMode         string
}

// Config is the complete copycat configuration
type Config struct {
	Path     string
	APIBase  string
	Token    string
	LogLevel string
	CacheTTL time.Duration
	Stream   StreamConfig
	Server   ServerConfig
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_base", "http://localhost:4223")
	v.SetDefault("token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("cache_ttl", 5*time.Minute)

	v.SetDefault("stream.reconnect_delay", 3*time.Second)
	v.SetDefault("stream.grace_delay", 100*time.Millisecond)
	v.SetDefault("stream.handshake_timeout", 10*time.Second)

	v.SetDefault("server.port", 4223)
	v.SetDefault("server.source_root", "./source")
	v.SetDefault("server.destination_root", DefaultDestinationRoot)
	v.SetDefault("server.cors_origins", "http://localhost:3000,http://localhost:4222")
	v.SetDefault("server.workers", 2)
	v.SetDefault("server.gin_mode", "release")
}

// Load reads the config file, when there is one, and the environment into a
// Config. An explicit configFile must exist; the default locations may not.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if dir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, ".copycat"))
			v.AddConfigPath(filepath.Join(dir, ".config", "copycat"))
		}
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Path:     v.ConfigFileUsed(),
		APIBase:  strings.TrimRight(v.GetString("api_base"), "/"),
		Token:    v.GetString("token"),
		LogLevel: v.GetString("log_level"),
		CacheTTL: v.GetDuration("cache_ttl"),
		Stream: StreamConfig{
			ReconnectDelay:   v.GetDuration("stream.reconnect_delay"),
			GraceDelay:       v.GetDuration("stream.grace_delay"),
			HandshakeTimeout: v.GetDuration("stream.handshake_timeout"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			SourceRoot:      v.GetString("server.source_root"),
			DestinationRoot: v.GetString("server.destination_root"),
			CORSOrigins:     splitList(v.GetStringSlice("server.cors_origins")),
			Workers:         v.GetInt("server.workers"),
			GinMode:         v.GetString("server.gin_mode"),
		},
	}
	return cfg, nil
}

// splitList accepts both real lists and comma separated strings
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return ErrNoAPIBase
	}
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrBadAPIBase, c.APIBase)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("config: server.workers must be at least 1, got %d", c.Server.Workers)
	}
	return nil
}

// SlogLevel maps log_level to a slog level, info when unknown
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
