// Package model defines the domain types and value objects for the
// bottest orchestrator.
//
// This package contains pure data structures with no external dependencies:
// service lifecycle states (ServiceState), the immutable environment
// configuration record with its named presets (Config), and the exit
// codes (ExitCode) plus custom error type (CLIError) used by the CLI
// layer to translate domain errors into OS process exit codes.
package model
