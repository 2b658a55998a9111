package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeboxbridge/internal/homebox"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
homebox:
  host: homebox.local:7745
  use_https: true
  auth_method: login
  username: user@example.com
  password: hunter2
  poll_interval: 1m
home_assistant:
  url: http://homeassistant:8123
  token: ha-token
api:
  port: 9090
`)
	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "https://homebox.local:7745", cfg.Homebox.BaseURL())
	assert.Equal(t, homebox.AuthMethodLogin, cfg.Homebox.AuthMethod)
	assert.Equal(t, time.Minute, cfg.Homebox.PollInterval.Std())
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "http://homeassistant:8123", cfg.HomeAssistant.URL)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOMEBOX_HOST", "homebox.local:7745")
	t.Setenv("HOMEBOX_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "http://homebox.local:7745", cfg.Homebox.BaseURL())
	assert.Equal(t, homebox.AuthMethodToken, cfg.Homebox.AuthMethod)
	assert.Equal(t, 30*time.Second, cfg.Homebox.PollInterval.Std())
	assert.Equal(t, 55*time.Minute, cfg.Homebox.TokenTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Homebox.RequestTimeout.Std())
	assert.Equal(t, 8093, cfg.API.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
homebox:
  host: from-file:7745
  token: file-token
`)
	t.Setenv("HOMEBOX_HOST", "from-env:7745")
	t.Setenv("HOMEBOX_POLL_INTERVAL", "2m")

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "from-env:7745", cfg.Homebox.Host)
	assert.Equal(t, "file-token", cfg.Homebox.Token)
	assert.Equal(t, 2*time.Minute, cfg.Homebox.PollInterval.Std())
}

func TestValidateRejectsIncompleteAuth(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing host", "homebox:\n  token: t\n"},
		{"token method without token", "homebox:\n  host: h:1\n  auth_method: token\n"},
		{"login method without password", "homebox:\n  host: h:1\n  auth_method: login\n  username: u\n"},
		{"unknown method", "homebox:\n  host: h:1\n  auth_method: oauth\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestCredentials(t *testing.T) {
	path := writeConfig(t, `
homebox:
  host: h:1
  auth_method: login
  username: user@example.com
  password: hunter2
`)
	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	creds := cfg.Credentials()
	assert.Equal(t, homebox.AuthMethodLogin, creds.Method)
	assert.Equal(t, "user@example.com", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
}
