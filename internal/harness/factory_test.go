package harness

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/port"
)

// newQuietFactory returns a factory that keeps ports and directories
// local to the test and stays silent.
func newQuietFactory(t *testing.T, lo, hi uint16) *Factory {
	t.Helper()
	return &Factory{
		Allocator: port.NewAllocator(lo, hi),
		Logger:    zerolog.Nop(),
		BaseDir:   t.TempDir(),
	}
}

// TestSetup_Minimal brings up an environment with no services, which
// must work on any machine regardless of installed binaries.
func TestSetup_Minimal(t *testing.T) {
	f := newQuietFactory(t, 52000, 52999)

	env, err := f.Setup(context.Background(), model.MinimalConfig())
	require.NoError(t, err)
	defer env.Teardown()

	assert.DirExists(t, env.Dir())
	assert.Empty(t, env.Services())
	assert.Nil(t, env.Postgres())
	assert.Nil(t, env.Minio())
	assert.Nil(t, env.Redis())

	// Descriptors are derived from ports and must be usable even when
	// the backing service is disabled.
	assert.Contains(t, env.DatabaseURL(), "postgres://")
	assert.Contains(t, env.RedisURL(), "redis://")
}

// TestSetup_DisjointPorts verifies two environments from one factory
// never share a port.
func TestSetup_DisjointPorts(t *testing.T) {
	f := newQuietFactory(t, 53000, 53999)
	ctx := context.Background()

	a, err := f.Setup(ctx, model.MinimalConfig())
	require.NoError(t, err)
	defer a.Teardown()

	b, err := f.Setup(ctx, model.MinimalConfig())
	require.NoError(t, err)
	defer b.Teardown()

	seen := map[uint16]bool{}
	for _, p := range []uint16{
		a.Ports().Postgres, a.Ports().Minio, a.Ports().Redis, a.Ports().App,
		b.Ports().Postgres, b.Ports().Minio, b.Ports().Redis, b.Ports().App,
	} {
		assert.False(t, seen[p], "port %d allocated twice", p)
		seen[p] = true
	}
}

// TestSetup_SequentialReuse verifies a torn-down environment frees its
// ports for the next one.
func TestSetup_SequentialReuse(t *testing.T) {
	f := newQuietFactory(t, 54000, 54999)
	ctx := context.Background()

	a, err := f.Setup(ctx, model.MinimalConfig())
	require.NoError(t, err)
	a.Teardown()
	assert.Equal(t, 0, f.Allocator.HeldCount())

	b, err := f.Setup(ctx, model.MinimalConfig())
	require.NoError(t, err)
	defer b.Teardown()
	assert.Equal(t, 4, f.Allocator.HeldCount())
}

// TestSetupT_CleansUp verifies SetupT registers teardown with the test
// lifecycle.
func TestSetupT_CleansUp(t *testing.T) {
	f := newQuietFactory(t, 55000, 55999)

	var dir string
	t.Run("inner", func(t *testing.T) {
		env := f.SetupT(t, model.MinimalConfig())
		dir = env.Dir()
		assert.DirExists(t, dir)
	})

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "directory should be removed by test cleanup")
	assert.Equal(t, 0, f.Allocator.HeldCount())
}
