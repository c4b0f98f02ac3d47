package harness

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/port"
	"github.com/GeneralBots/bottest/internal/services"
)

// Environment is one disposable collection of ports, processes, and
// directories created for a single test run. It is single-owner: the
// test that obtained it uses and tears it down; nothing is shared with
// other environments except the port allocator it drew from.
type Environment struct {
	id     uuid.UUID
	config model.Config
	ports  *port.PortSet
	dir    string
	logger zerolog.Logger

	// svcs holds started services in start order; Teardown walks it in
	// reverse. Services are appended before Start so a mid-setup
	// failure still leaves them reachable for teardown.
	svcs []services.Service

	postgres *services.PostgresService
	minio    *services.MinioService
	redis    *services.RedisService

	// tornDown makes Teardown idempotent: only the swap from false to
	// true performs the underlying stop and cleanup actions.
	tornDown atomic.Bool
}

// ID returns the environment's unique identifier.
func (e *Environment) ID() uuid.UUID { return e.id }

// Config returns the configuration the environment was created with.
func (e *Environment) Config() model.Config { return e.config }

// Dir returns the environment's private working directory.
func (e *Environment) Dir() string { return e.dir }

// Ports returns the environment's allocated port set.
func (e *Environment) Ports() *port.PortSet { return e.ports }

// Postgres returns the database service, or nil when not enabled.
func (e *Environment) Postgres() *services.PostgresService { return e.postgres }

// Minio returns the object store service, or nil when not enabled.
func (e *Environment) Minio() *services.MinioService { return e.minio }

// Redis returns the cache service, or nil when not enabled.
func (e *Environment) Redis() *services.RedisService { return e.redis }

// DatabaseURL returns the database connection descriptor. It is built
// from the allocated port and fixed credentials, so it is valid to call
// even before (or without) the database service starting.
func (e *Environment) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		services.DefaultUsername, services.DefaultPassword,
		services.Host, e.ports.Postgres, services.DefaultDatabase)
}

// MinioEndpoint returns the object store endpoint URL.
func (e *Environment) MinioEndpoint() string {
	return fmt.Sprintf("http://%s:%d", services.Host, e.ports.Minio)
}

// RedisURL returns the cache connection descriptor.
func (e *Environment) RedisURL() string {
	if e.redis != nil {
		return e.redis.ConnectionString()
	}
	return fmt.Sprintf("redis://%s:%d", services.Host, e.ports.Redis)
}

// AppURL returns the URL reserved for the application under test. The
// harness only reserves the port; a collaborator launches the binary.
func (e *Environment) AppURL() string {
	return fmt.Sprintf("http://%s:%d", services.Host, e.ports.App)
}

// Services returns the started services in start order.
func (e *Environment) Services() []services.Service {
	return e.svcs
}

// Teardown stops every started service in reverse start order, removes
// the working directory, and releases the port set. It runs its
// underlying actions exactly once; later calls are no-ops. Per-service
// stop and cleanup errors are logged and never abort the remaining
// teardown steps.
func (e *Environment) Teardown() {
	if !e.tornDown.CompareAndSwap(false, true) {
		return
	}
	// The normal path ran; the safety-net finalizer is no longer needed.
	runtime.SetFinalizer(e, nil)
	e.teardown()
}

func (e *Environment) teardown() {
	e.logger.Info().Str("env", e.id.String()).Msg("tearing down environment")

	ctx := context.Background()
	for i := len(e.svcs) - 1; i >= 0; i-- {
		svc := e.svcs[i]
		if err := svc.Stop(ctx); err != nil {
			e.logger.Warn().Err(err).Str("service", svc.Name()).Msg("stop failed during teardown")
		}
		if err := svc.Cleanup(); err != nil {
			e.logger.Warn().Err(err).Str("service", svc.Name()).Msg("cleanup failed during teardown")
		}
	}

	if err := os.RemoveAll(e.dir); err != nil {
		e.logger.Warn().Err(err).Str("dir", e.dir).Msg("working directory removal failed")
	}

	e.ports.Release()
}

// finalize is the safety net installed by the factory for environments
// abandoned without Teardown. Finalizers are best effort by nature; the
// reliable path is Teardown (or SetupT's registered cleanup).
func (e *Environment) finalize() {
	if e.tornDown.CompareAndSwap(false, true) {
		e.logger.Warn().Str("env", e.id.String()).Msg("environment dropped without Teardown; finalizer cleaning up")
		e.teardown()
	}
}
