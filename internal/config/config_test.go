package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "halite.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
halite:
  server:
    address: 127.0.0.1
    port: 9000
    http:
      enabled: true
      port: 9001
  password: "hunter2"
  sessionExpirationSeconds: 30
  loadChunkSize: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, "127.0.0.1:9000", cfg.WSAddr())
	assert.Equal(t, "127.0.0.1:9001", cfg.HTTPAddr())
	assert.True(t, cfg.Server.HTTP.Enabled)
	assert.Equal(t, 30*time.Second, cfg.ResumeWindow())
	assert.Equal(t, 10, cfg.LoadChunkSize)

	// Defaults fill whatever the file omitted.
	assert.Equal(t, 60*time.Second, cfg.StatsInterval())
	assert.Equal(t, 5*time.Second, cfg.PlayerUpdateInterval())
	assert.Equal(t, 400, cfg.BufferDurationMs)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("HALITE_PASSWORD", "from-env")
	t.Setenv("HALITE_PORT", "9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Password)
	assert.Equal(t, "0.0.0.0:9999", cfg.WSAddr())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
halite:
  password: "from-file"
`)
	t.Setenv("HALITE_PASSWORD", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Password)
}

func TestLoadRejectsMissingPassword(t *testing.T) {
	path := writeConfig(t, `
halite:
  server:
    port: 9000
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestLoadRejectsInvalidChunkSize(t *testing.T) {
	path := writeConfig(t, `
halite:
  password: "hunter2"
  loadChunkSize: -3
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loadChunkSize")
}

func TestLoadRejectsInvalidSessionExpiration(t *testing.T) {
	path := writeConfig(t, `
halite:
  password: "hunter2"
  sessionExpirationSeconds: -1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessionExpirationSeconds")
}
