package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFindBinary_StackPathWins verifies a bundled binary under
// BOTTEST_STACK_PATH takes precedence over anything else.
func TestFindBinary_StackPathWins(t *testing.T) {
	stack := t.TempDir()
	binDir := filepath.Join(stack, "bin", "drive")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	fake := filepath.Join(binDir, "minio")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv(StackPathEnv, stack)

	got, err := findMinioBinary()
	require.NoError(t, err)
	assert.Equal(t, fake, got)
}

// TestFindBinary_MissingNamesTheBinary verifies the error identifies
// what could not be found and how to fix it.
func TestFindBinary_MissingNamesTheBinary(t *testing.T) {
	t.Setenv(StackPathEnv, t.TempDir())
	t.Setenv("PATH", t.TempDir())

	_, err := findBinary("bottest-definitely-missing", "bin/none", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bottest-definitely-missing")
	assert.Contains(t, err.Error(), StackPathEnv)
}

// TestFindPostgresInstallation_Stack verifies the bundled layout
// (bin/tables/{bin,lib}) is discovered with its lib directory.
func TestFindPostgresInstallation_Stack(t *testing.T) {
	stack := t.TempDir()
	binDir := filepath.Join(stack, "bin", "tables", "bin")
	libDir := filepath.Join(stack, "bin", "tables", "lib")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "initdb"), []byte("#!/bin/sh\n"), 0o755))

	t.Setenv(StackPathEnv, stack)

	gotBin, gotLib, err := findPostgresInstallation()
	require.NoError(t, err)
	assert.Equal(t, binDir, gotBin)
	assert.Equal(t, libDir, gotLib)
}

// TestDiscover_ReportsEveryBinary verifies the diagnostics report
// covers all service binaries with known required flags.
func TestDiscover_ReportsEveryBinary(t *testing.T) {
	report := Discover()

	byName := make(map[string]BinaryStatus, len(report))
	for _, s := range report {
		byName[s.Name] = s
	}

	for _, required := range []string{"initdb", "postgres", "psql", "pg_isready", "minio", "redis-server", "redis-cli"} {
		s, ok := byName[required]
		require.True(t, ok, "report missing %s", required)
		assert.True(t, s.Required, "%s should be required", required)
	}
	for _, optional := range []string{"mc", "goose"} {
		s, ok := byName[optional]
		require.True(t, ok, "report missing %s", optional)
		assert.False(t, s.Required, "%s should be optional", optional)
	}
}
