package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/port"
	"github.com/GeneralBots/bottest/internal/services"
)

// Factory turns configurations into running environments. The zero
// value is not usable; construct with NewFactory and override fields
// before the first Setup call if needed.
type Factory struct {
	// Allocator supplies ports. Defaults to the process-wide allocator,
	// which is what makes concurrent environments in one process
	// collision-free.
	Allocator *port.Allocator

	// Logger receives setup and teardown progress. Services derive
	// their own scoped loggers from it.
	Logger zerolog.Logger

	// BaseDir is where per-environment working directories are created.
	BaseDir string
}

// NewFactory returns a Factory with the process default allocator, a
// console logger on stderr, and the OS temp directory as base.
func NewFactory() *Factory {
	return &Factory{
		Allocator: port.DefaultAllocator(),
		Logger:    zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
		BaseDir:   os.TempDir(),
	}
}

// Setup creates a working directory, allocates a port set, and starts
// exactly the services cfg enables, in the fixed order postgres, minio,
// redis. Each service is spawned, waited ready, and (database only)
// initialized before the next starts.
//
// On failure the error names the failing dependency and the Environment
// is still returned with every already-started service running, so the
// caller can inspect partial state. Always call Teardown on the
// returned Environment, whatever the error.
func (f *Factory) Setup(ctx context.Context, cfg model.Config) (*Environment, error) {
	id := uuid.New()
	dir := filepath.Join(f.BaseDir, "bottest-"+id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create environment dir: %w", err)
	}

	env := &Environment{
		id:     id,
		config: cfg,
		ports:  port.AllocateSet(f.Allocator),
		dir:    dir,
		logger: f.Logger,
	}
	// Safety net for environments dropped without Teardown. Best
	// effort only: the reliable paths are Teardown and SetupT.
	runtime.SetFinalizer(env, (*Environment).finalize)

	f.Logger.Info().
		Str("env", id.String()).
		Str("dir", dir).
		Uint16("postgres", env.ports.Postgres).
		Uint16("minio", env.ports.Minio).
		Uint16("redis", env.ports.Redis).
		Uint16("app", env.ports.App).
		Msg("setting up environment")

	if cfg.Postgres {
		pg := services.NewPostgres(env.ports.Postgres, dir, f.Logger)
		env.postgres = pg
		env.svcs = append(env.svcs, pg)

		if err := f.bringUp(ctx, pg); err != nil {
			return env, err
		}
		if err := pg.SetupDatabase(ctx); err != nil {
			return env, fmt.Errorf("postgres: %w", err)
		}
		if cfg.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return env, fmt.Errorf("postgres migrations: %w", err)
			}
		}
	}

	if cfg.Minio {
		m := services.NewMinio(env.ports.Minio, dir, f.Logger)
		env.minio = m
		env.svcs = append(env.svcs, m)

		if err := f.bringUp(ctx, m); err != nil {
			return env, err
		}
	}

	if cfg.Redis {
		r := services.NewRedis(env.ports.Redis, dir, f.Logger)
		env.redis = r
		env.svcs = append(env.svcs, r)

		if err := f.bringUp(ctx, r); err != nil {
			return env, err
		}
	}

	return env, nil
}

// bringUp spawns one service and waits for readiness, wrapping errors
// with the service name so a failed setup identifies its dependency.
func (f *Factory) bringUp(ctx context.Context, svc services.Service) error {
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", svc.Name(), err)
	}
	if err := svc.WaitReady(ctx); err != nil {
		return fmt.Errorf("%s: %w", svc.Name(), err)
	}
	return nil
}

// SetupT is Setup for tests: it registers Teardown with tb.Cleanup
// before checking the setup result, so even a failed setup is torn
// down, then fails the test on error.
func (f *Factory) SetupT(tb testing.TB, cfg model.Config) *Environment {
	tb.Helper()

	env, err := f.Setup(context.Background(), cfg)
	if env != nil {
		tb.Cleanup(env.Teardown)
	}
	if err != nil {
		tb.Fatalf("environment setup: %v", err)
	}
	return env
}

// Setup creates an environment with default factory settings. Shorthand
// for NewFactory().Setup.
func Setup(ctx context.Context, cfg model.Config) (*Environment, error) {
	return NewFactory().Setup(ctx, cfg)
}
