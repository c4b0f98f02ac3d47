package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServiceState_IsValid verifies that only the five defined lifecycle
// states are accepted.
func TestServiceState_IsValid(t *testing.T) {
	valid := []ServiceState{StateStopped, StateStarting, StateRunning, StateStopping, StateFailed}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "state %q should be valid", s)
	}

	assert.False(t, ServiceState("crashed").IsValid())
	assert.False(t, ServiceState("").IsValid())
}

// TestServiceState_IsTerminal verifies that only Failed is terminal.
// Stopped is not terminal: a stopped service instance could in principle
// be started, while a Failed one must never be retried.
func TestServiceState_IsTerminal(t *testing.T) {
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateStopped.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
}

// TestParseServiceState verifies case-insensitive parsing and rejection
// of unknown values.
func TestParseServiceState(t *testing.T) {
	s, err := ParseServiceState("Running")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s)

	_, err = ParseServiceState("exploded")
	assert.Error(t, err)
}

// TestConfig_Default verifies the default preset enables only the
// database, with migrations.
func TestConfig_Default(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Postgres)
	assert.False(t, cfg.Minio)
	assert.False(t, cfg.Redis)
	assert.True(t, cfg.RunMigrations)
}

// TestConfig_Minimal verifies the minimal preset enables nothing.
func TestConfig_Minimal(t *testing.T) {
	cfg := MinimalConfig()
	assert.False(t, cfg.Postgres)
	assert.False(t, cfg.Minio)
	assert.False(t, cfg.Redis)
	assert.False(t, cfg.RunMigrations)
}

// TestConfig_Full verifies the full preset enables everything.
func TestConfig_Full(t *testing.T) {
	cfg := FullConfig()
	assert.True(t, cfg.Postgres)
	assert.True(t, cfg.Minio)
	assert.True(t, cfg.Redis)
	assert.True(t, cfg.RunMigrations)
}

// TestPresetConfig verifies name resolution, including case folding
// and the error for unknown names.
func TestPresetConfig(t *testing.T) {
	cfg, err := PresetConfig("FULL")
	require.NoError(t, err)
	assert.Equal(t, FullConfig(), cfg)

	cfg, err = PresetConfig("database-only")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = PresetConfig("everything")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset")
}

// TestCLIError_Unwrap verifies errors.Is works through CLIError wrapping.
func TestCLIError_Unwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := WrapCLIError(ExitSetupFailed, "setup failed", underlying)

	assert.True(t, errors.Is(err, underlying))
	assert.Contains(t, err.Error(), "setup failed")
	assert.Contains(t, err.Error(), "boom")
}

// TestCLIError_NoUnderlying verifies message formatting without a
// wrapped error.
func TestCLIError_NoUnderlying(t *testing.T) {
	err := NewCLIError(ExitConfigError, "bad preset")
	assert.Equal(t, "bad preset", err.Error())
	assert.Nil(t, err.Unwrap())
}
