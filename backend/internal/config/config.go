package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the signaling server configuration.
type Config struct {
	Server   ServerConfig
	Presence PresenceConfig
	Relay    RelayConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PresenceConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RelayConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type LogConfig struct {
	Level string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads configuration with the following priority:
// 1. Environment variables
// 2. config.yaml (./config or working directory), if present
// 3. Defaults
func Load() (*Config, error) {
	return load(viper.New(), "./config")
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("presence.session_ttl", "5m")
	v.SetDefault("presence.sweep_interval", "60s")
	v.SetDefault("relay.max_message_size", 64*1024)
	v.SetDefault("relay.pong_wait", "60s")
	v.SetDefault("relay.write_wait", "10s")
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("log.level", "info")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	v.BindEnv("presence.session_ttl", "SESSION_TTL")
	v.BindEnv("presence.sweep_interval", "SWEEP_INTERVAL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 15*time.Second)
	cfg.Presence.SessionTTL = parseDuration(v, "presence.session_ttl", 5*time.Minute)
	cfg.Presence.SweepInterval = parseDuration(v, "presence.sweep_interval", 60*time.Second)
	cfg.Relay.PongWait = parseDuration(v, "relay.pong_wait", 60*time.Second)
	cfg.Relay.WriteWait = parseDuration(v, "relay.write_wait", 10*time.Second)
	cfg.Server.AllowedOrigins = splitList(v.GetStringSlice("server.allowed_origins"))

	if cfg.Presence.SweepInterval >= cfg.Presence.SessionTTL {
		return nil, fmt.Errorf("sweep interval %s must be shorter than session ttl %s",
			cfg.Presence.SweepInterval, cfg.Presence.SessionTTL)
	}

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// splitList accepts both YAML lists and a single comma separated env value.
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
