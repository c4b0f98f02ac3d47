package services

import (
	"context"
	"os"

	"github.com/GeneralBots/bottest/internal/model"
)

// Host is the address every service binds and every probe dials.
// Test services are loopback-only; nothing is ever exposed beyond the
// machine running the tests.
const Host = "127.0.0.1"

// Service is the uniform lifecycle every subprocess-backed dependency
// implements. The environment aggregator holds a []Service so start and
// stop ordering works over one collection instead of per-kind fields.
type Service interface {
	// Name identifies the service in logs and error messages
	// ("postgres", "minio", "redis").
	Name() string

	// Start spawns the server process. It returns once the process is
	// spawned, not once it is ready; callers must follow with WaitReady.
	Start(ctx context.Context) error

	// WaitReady blocks until the service accepts traffic or its
	// readiness timeout elapses. On timeout the service transitions to
	// the terminal Failed state and a readiness.TimeoutError is
	// returned.
	WaitReady(ctx context.Context) error

	// Stop terminates the process: graceful signal first, bounded
	// polling for exit, force-kill as the last resort. Stop on an
	// already-stopped service is a no-op.
	Stop(ctx context.Context) error

	// Cleanup removes the service's private data directory. Best
	// effort; callers typically log and swallow the returned error.
	Cleanup() error

	// ConnectionString returns the descriptor collaborators use to
	// reach the service (database URL, endpoint URL, cache URL).
	ConnectionString() string

	// State reports the current lifecycle state.
	State() model.ServiceState
}

// ensureDir creates the directory (and parents) if it does not exist.
func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
