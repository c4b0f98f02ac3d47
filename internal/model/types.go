package model

import (
	"fmt"
	"strings"
)

// ServiceState represents the lifecycle state of a managed service.
// The state transitions are:
//
//	Stopped → Starting → Running → Stopping → Stopped
//	                Starting → Failed (readiness timeout, terminal)
//
// A service that reaches Failed is never retried; the environment that
// owns it must be torn down and a fresh one created.
type ServiceState string

const (
	// StateStopped indicates no process is running for the service.
	// This is both the initial state and the normal terminal state.
	StateStopped ServiceState = "stopped"

	// StateStarting indicates the process has been spawned but the
	// readiness probe has not yet succeeded. Process spawn completes
	// asynchronously relative to network readiness, so a service stays
	// in Starting until its probe confirms it accepts traffic.
	StateStarting ServiceState = "starting"

	// StateRunning indicates the readiness probe succeeded and the
	// service accepts traffic.
	StateRunning ServiceState = "running"

	// StateStopping indicates a graceful termination signal was sent
	// and the owner is polling for process exit.
	StateStopping ServiceState = "stopping"

	// StateFailed indicates the readiness probe did not succeed within
	// its timeout. Failed is terminal and non-retryable for the instance.
	StateFailed ServiceState = "failed"
)

// String returns the string representation of ServiceState.
// This method satisfies the fmt.Stringer interface, enabling
// human-readable output in CLI commands and logging.
func (s ServiceState) String() string {
	return string(s)
}

// IsValid checks whether the ServiceState value is one of the
// predefined valid states.
func (s ServiceState) IsValid() bool {
	switch s {
	case StateStopped, StateStarting, StateRunning, StateStopping, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state admits no further transitions.
func (s ServiceState) IsTerminal() bool {
	return s == StateFailed
}

// ParseServiceState converts a string to a ServiceState.
// Returns an error if the string does not match any valid state.
func ParseServiceState(s string) (ServiceState, error) {
	state := ServiceState(strings.ToLower(s))
	if !state.IsValid() {
		return "", fmt.Errorf("invalid service state: %q (valid: stopped, starting, running, stopping, failed)", s)
	}
	return state, nil
}

// Config is the immutable selection of services one environment runs.
// A Config is chosen once (usually via a preset) and never mutated after
// the environment starts; the Environment keeps its own copy by value.
type Config struct {
	// Postgres enables the embedded PostgreSQL service.
	Postgres bool `json:"postgres" yaml:"postgres"`

	// Minio enables the embedded MinIO object store.
	Minio bool `json:"minio" yaml:"minio"`

	// Redis enables the embedded Redis cache.
	Redis bool `json:"redis" yaml:"redis"`

	// RunMigrations runs schema migrations against the test database
	// after it is created. Only meaningful when Postgres is enabled.
	RunMigrations bool `json:"runMigrations" yaml:"runMigrations"`
}

// DefaultConfig returns the configuration most tests want: a migrated
// database and nothing else.
func DefaultConfig() Config {
	return Config{Postgres: true, RunMigrations: true}
}

// MinimalConfig returns a configuration with every service disabled.
// Useful for tests that only need ports and a working directory.
func MinimalConfig() Config {
	return Config{}
}

// DatabaseOnlyConfig is an alias for DefaultConfig kept for symmetry with
// the preset names exposed by the CLI and config files.
func DatabaseOnlyConfig() Config {
	return DefaultConfig()
}

// FullConfig returns a configuration with every service enabled.
func FullConfig() Config {
	return Config{Postgres: true, Minio: true, Redis: true, RunMigrations: true}
}

// Presets maps preset names accepted by the CLI and config files to
// their constructors. The map is keyed by the canonical lowercase name.
var Presets = map[string]func() Config{
	"default":       DefaultConfig,
	"minimal":       MinimalConfig,
	"database-only": DatabaseOnlyConfig,
	"full":          FullConfig,
}

// PresetConfig resolves a preset name to a Config.
// Returns an error listing the valid names when the name is unknown.
func PresetConfig(name string) (Config, error) {
	ctor, ok := Presets[strings.ToLower(name)]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset: %q (valid: default, minimal, database-only, full)", name)
	}
	return ctor(), nil
}

// ExitCode defines standard CLI exit codes. These codes allow scripts
// and CI systems to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates a preset or configuration file could
	// not be resolved or parsed.
	ExitConfigError ExitCode = 2

	// ExitBinaryNotFound indicates a required service binary (postgres,
	// minio, redis-server, ...) could not be located.
	ExitBinaryNotFound ExitCode = 3

	// ExitSetupFailed indicates a service was spawned but the
	// environment could not be brought up (readiness timeout,
	// database initialization failure, ...).
	ExitSetupFailed ExitCode = 4
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a CLIError that wraps an underlying error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
