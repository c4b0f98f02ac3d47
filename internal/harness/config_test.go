package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/bottest/internal/model"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfigFile(t, "env.yaml", `
preset: full
runMigrations: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.Config{Postgres: true, Minio: true, Redis: true}, cfg)
}

func TestLoadConfig_JSONC(t *testing.T) {
	path := writeConfigFile(t, "env.jsonc", `{
	// object store for upload tests
	"preset": "minimal",
	"minio": true,
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.Config{Minio: true}, cfg)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfigFile(t, "env.json", `{"preset": "database-only"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)
}

// TestLoadConfig_DefaultsPreset verifies an absent preset falls back to
// the default base before overrides apply.
func TestLoadConfig_DefaultsPreset(t *testing.T) {
	path := writeConfigFile(t, "env.yaml", `redis: true`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.Config{Postgres: true, Redis: true, RunMigrations: true}, cfg)
}

// TestLoadConfig_ExplicitFalse verifies overrides distinguish false
// from absent.
func TestLoadConfig_ExplicitFalse(t *testing.T) {
	path := writeConfigFile(t, "env.yaml", `
preset: default
postgres: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.Postgres)
	assert.True(t, cfg.RunMigrations)
}

func TestLoadConfig_UnknownPreset(t *testing.T) {
	path := writeConfigFile(t, "env.yaml", `preset: gigantic`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset")
}

func TestLoadConfig_UnsupportedFormat(t *testing.T) {
	path := writeConfigFile(t, "env.toml", `preset = "default"`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
