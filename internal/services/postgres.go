package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/readiness"
)

// Fixed test credentials. These are deliberately static: environments
// are loopback-only and discarded, and collaborators need a predictable
// descriptor to connect with.
const (
	DefaultDatabase = "bottest"
	DefaultUsername = "bottest"
	DefaultPassword = "bottest"
)

// pgVersionMarker is the file initdb writes at the root of a cluster
// directory. Its presence means cluster initialization already ran.
const pgVersionMarker = "PG_VERSION"

// PostgresService runs an ephemeral PostgreSQL cluster in a private
// data directory, configured for speed over crash-safety.
type PostgresService struct {
	port    uint16
	dataDir string
	binDir  string
	libDir  string

	proc   *process
	state  model.ServiceState
	logger zerolog.Logger

	database string
	username string
	password string

	// MigrationsDir is where RunMigrations looks for SQL migrations.
	MigrationsDir string
}

// NewPostgres creates a PostgresService bound to port with its data
// directory under baseDir. Nothing is spawned until Start.
func NewPostgres(port uint16, baseDir string, logger zerolog.Logger) *PostgresService {
	return &PostgresService{
		port:          port,
		dataDir:       filepath.Join(baseDir, "postgres"),
		state:         model.StateStopped,
		logger:        logger.With().Str("service", "postgres").Logger(),
		database:      DefaultDatabase,
		username:      DefaultUsername,
		password:      DefaultPassword,
		MigrationsDir: "migrations",
	}
}

// Name implements Service.
func (s *PostgresService) Name() string { return "postgres" }

// State implements Service.
func (s *PostgresService) State() model.ServiceState { return s.state }

// Port returns the TCP port the server listens on.
func (s *PostgresService) Port() uint16 { return s.port }

// ConnectionString returns the database URL collaborators connect with.
func (s *PostgresService) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", s.username, s.password, Host, s.port, s.database)
}

// command builds an exec.Cmd for a binary from the discovered
// installation, wiring LD_LIBRARY_PATH for bundled stacks.
func (s *PostgresService) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, filepath.Join(s.binDir, name), args...)
	if s.libDir != "" {
		cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+s.libDir)
	}
	return cmd
}

// Start locates the installation, initializes the cluster on first use,
// and spawns the server. It returns once the process is spawned;
// readiness is WaitReady's job.
func (s *PostgresService) Start(ctx context.Context) error {
	binDir, libDir, err := findPostgresInstallation()
	if err != nil {
		return err
	}
	s.binDir, s.libDir = binDir, libDir
	s.logger.Debug().Str("bin", binDir).Msg("using PostgreSQL installation")

	if err := ensureDir(s.dataDir); err != nil {
		return fmt.Errorf("create postgres data dir: %w", err)
	}

	// The marker keeps a restart against the same directory from
	// re-running cluster initialization.
	if _, err := os.Stat(filepath.Join(s.dataDir, pgVersionMarker)); os.IsNotExist(err) {
		if err := s.initCluster(ctx); err != nil {
			return err
		}
		if err := s.writeConfig(); err != nil {
			return err
		}
	}

	if err := s.spawnServer(); err != nil {
		return err
	}
	s.state = model.StateStarting
	return nil
}

// initCluster runs initdb against the private data directory.
func (s *PostgresService) initCluster(ctx context.Context) error {
	s.logger.Info().Str("dir", s.dataDir).Msg("initializing PostgreSQL cluster")

	out, err := s.command(ctx, "initdb",
		"-D", s.dataDir,
		"-U", "postgres",
		"-A", "trust",
		"-E", "UTF8",
		"--no-locale",
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("initdb failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// writeConfig replaces postgresql.conf with a non-durable test
// configuration: no fsync, no synchronous commit, no full-page writes,
// reduced buffers. The directory is discarded at teardown, so crash
// safety buys nothing and costs startup and commit latency.
func (s *PostgresService) writeConfig() error {
	socketDir, err := filepath.Abs(s.dataDir)
	if err != nil {
		socketDir = s.dataDir
	}

	config := fmt.Sprintf(`# Test configuration - optimized for speed, not durability
listen_addresses = '%s'
port = %d
max_connections = 50
shared_buffers = 128MB
work_mem = 16MB
maintenance_work_mem = 64MB
wal_level = minimal
fsync = off
synchronous_commit = off
full_page_writes = off
checkpoint_timeout = 30min
max_wal_senders = 0
logging_collector = off
log_statement = 'none'
log_duration = off
unix_socket_directories = '%s'
`, Host, s.port, socketDir)

	path := filepath.Join(s.dataDir, "postgresql.conf")
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		return fmt.Errorf("write postgresql.conf: %w", err)
	}
	return nil
}

// spawnServer starts the postgres process with its output redirected to
// a log file inside the data directory. The file survives until
// Cleanup, which is what makes readiness failures debuggable.
func (s *PostgresService) spawnServer() error {
	s.logger.Info().Uint16("port", s.port).Msg("starting PostgreSQL")

	logPath := filepath.Join(s.dataDir, "postgres.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create postgres log file: %w", err)
	}

	cmd := exec.Command(filepath.Join(s.binDir, "postgres"), "-D", s.dataDir)
	if s.libDir != "" {
		cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+s.libDir)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	p, err := spawn(cmd)
	// The child inherited the descriptor; our handle is no longer
	// needed either way.
	_ = logFile.Close()
	if err != nil {
		return err
	}
	s.proc = p
	return nil
}

// WaitReady blocks until the server accepts connections. TCP accept
// alone does not mean recovery finished, so after the TCP probe
// succeeds it polls pg_isready. The pg_isready phase is best effort
// (some bundled stacks omit the binary); the TCP phase is mandatory and
// its timeout moves the service to the terminal Failed state.
func (s *PostgresService) WaitReady(ctx context.Context) error {
	s.logger.Debug().Msg("waiting for PostgreSQL readiness")

	if err := readiness.WaitDefault(ctx, "postgres", readiness.TCP(Host, s.port)); err != nil {
		s.state = model.StateFailed
		s.logServerLog()
		return err
	}

	isReady := func(ctx context.Context) bool {
		return s.command(ctx, "pg_isready", "-h", Host, "-p", strconv.Itoa(int(s.port))).Run() == nil
	}
	if err := readiness.Wait(ctx, "postgres", 3*time.Second, readiness.DefaultInterval, isReady); err != nil {
		s.logger.Debug().Msg("pg_isready never confirmed; continuing on TCP readiness")
	}

	s.state = model.StateRunning
	return nil
}

// logServerLog surfaces the server's own log after a readiness failure,
// which is usually the only place the real cause appears.
func (s *PostgresService) logServerLog() {
	content, err := os.ReadFile(filepath.Join(s.dataDir, "postgres.log"))
	if err != nil {
		return
	}
	s.logger.Error().Str("log", string(content)).Msg("PostgreSQL failed to become ready")
}

// SetupDatabase creates the test role and database with the fixed
// credentials. Both statements tolerate "already exists": a second
// setup against a reused cluster is success, not an error.
func (s *PostgresService) SetupDatabase(ctx context.Context) error {
	s.logger.Info().Str("database", s.database).Msg("creating test role and database")

	statements := []string{
		fmt.Sprintf("CREATE USER %s WITH PASSWORD '%s' SUPERUSER", s.username, s.password),
		fmt.Sprintf("CREATE DATABASE %s OWNER %s", s.database, s.username),
	}
	for _, stmt := range statements {
		out, err := s.command(ctx, "psql",
			"-h", Host,
			"-p", strconv.Itoa(int(s.port)),
			"-U", "postgres",
			"-c", stmt,
		).CombinedOutput()
		if err != nil && !strings.Contains(string(out), "already exists") {
			s.logger.Warn().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("database setup statement failed")
		}
	}
	return nil
}

// CreateDatabase creates an additional database, tolerating "already
// exists".
func (s *PostgresService) CreateDatabase(ctx context.Context, name string) error {
	out, err := s.command(ctx, "psql",
		"-h", Host,
		"-p", strconv.Itoa(int(s.port)),
		"-U", s.username,
		"-c", "CREATE DATABASE "+name,
	).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "already exists") {
		return fmt.Errorf("create database %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RunMigrations applies schema migrations through the goose CLI when it
// is installed. Migrations are best effort from the harness's point of
// view: a missing tool is a warning, not a setup failure, because most
// suites provision their own schema through Execute.
func (s *PostgresService) RunMigrations(ctx context.Context) error {
	goose, err := exec.LookPath("goose")
	if err != nil {
		s.logger.Warn().Msg("goose CLI not available, skipping migrations")
		return nil
	}

	s.logger.Info().Str("dir", s.MigrationsDir).Msg("running database migrations")

	out, err := exec.CommandContext(ctx, goose,
		"-dir", s.MigrationsDir,
		"postgres", s.ConnectionString(),
		"up",
	).CombinedOutput()
	if err != nil {
		s.logger.Warn().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("migrations failed")
	}
	return nil
}

// Execute runs a SQL statement against the test database and returns an
// error carrying psql's stderr on failure.
func (s *PostgresService) Execute(ctx context.Context, sql string) error {
	out, err := s.command(ctx, "psql",
		"-h", Host,
		"-p", strconv.Itoa(int(s.port)),
		"-U", s.username,
		"-d", s.database,
		"-c", sql,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sql execution failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Query runs a SQL query and returns the raw result rows, tuples-only
// and unaligned, trimmed of surrounding whitespace.
func (s *PostgresService) Query(ctx context.Context, sql string) (string, error) {
	out, err := s.command(ctx, "psql",
		"-h", Host,
		"-p", strconv.Itoa(int(s.port)),
		"-U", s.username,
		"-d", s.database,
		"-t",
		"-A",
		"-c", sql,
	).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("sql query failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Stop terminates the server via the two-stage state machine.
func (s *PostgresService) Stop(ctx context.Context) error {
	if s.proc == nil || !s.proc.Alive() {
		s.state = model.StateStopped
		return nil
	}

	s.logger.Info().Msg("stopping PostgreSQL")
	s.state = model.StateStopping

	forced := s.proc.Stop(ctx)
	if forced {
		s.logger.Warn().Msg("PostgreSQL did not exit gracefully, killed")
	}
	s.state = model.StateStopped
	return nil
}

// Cleanup removes the data directory.
func (s *PostgresService) Cleanup() error {
	if _, err := os.Stat(s.dataDir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(s.dataDir)
}
