package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 5*time.Minute, cfg.Presence.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, int64(64*1024), cfg.Relay.MaxMessageSize)
	assert.Equal(t, 256, cfg.Relay.SendBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Server.AllowedOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "2m")
	t.Setenv("SWEEP_INTERVAL", "10s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Presence.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  port: 7000\npresence:\n  session_ttl: 90s\n  sweep_interval: 15s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Presence.SessionTTL)
	assert.Equal(t, 15*time.Second, cfg.Presence.SweepInterval)
}

func TestLoad_RejectsSweepLongerThanTTL(t *testing.T) {
	t.Setenv("SESSION_TTL", "30s")
	t.Setenv("SWEEP_INTERVAL", "60s")

	_, err := load(viper.New(), t.TempDir())
	assert.Error(t, err)
}
