// Package cli wires the bottest commands together: up brings an
// environment to life and holds it until interrupted, doctor inspects
// binary discovery, presets lists the built-in configurations. The
// root command carries only global flags and help text.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/bottest/internal/model"
)

// Persistent flag values, bound on the root command and therefore
// visible to every subcommand.
var (
	jsonOutput bool
	verbose    bool
)

// Version, Commit, and Date identify the build. main injects the
// ldflags values before constructing the root command.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand assembles the command tree. The root itself has no run
// function; cobra falls back to help when invoked bare.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bottest",
		Short: "Ephemeral service environments for integration testing",
		Long: `bottest brings up throwaway PostgreSQL, MinIO, and Redis instances as
plain subprocesses, each environment on its own set of ports and with
its own working directory.

Environments are isolated from one another, so several can run in
parallel on one machine. Everything an environment created is removed
again on teardown.`,

		// Failures are rendered by Execute in whichever format --json
		// selects, so cobra's own error and usage printing stays off.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(NewUpCommand())
	rootCmd.AddCommand(NewDoctorCommand())
	rootCmd.AddCommand(NewPresetsCommand())

	return rootCmd
}

// Execute runs the command tree and exits the process with the code the
// failure carries. Called from main.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	code, message, detail := classifyError(err)
	fmt.Fprintln(os.Stderr, renderError(jsonOutput, message, detail))
	os.Exit(int(code))
}

// classifyError resolves a command failure into an exit code, a
// message, and an optional underlying detail. CLIError values name
// their own code; anything else is a general error.
func classifyError(err error) (model.ExitCode, string, error) {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code, cliErr.Message, cliErr.Err
	}
	return model.ExitGeneralError, err.Error(), nil
}

// renderError formats a failure for stderr. Stdout stays reserved for
// command output, so errors go to stderr in both formats.
func renderError(asJSON bool, message string, detail error) string {
	if !asJSON {
		if detail != nil {
			return fmt.Sprintf("Error: %s: %v", message, detail)
		}
		return "Error: " + message
	}

	body := map[string]string{"message": message}
	if detail != nil {
		body["detail"] = detail.Error()
	}
	data, _ := json.MarshalIndent(map[string]any{"error": body}, "", "  ")
	return string(data)
}

// VerboseLog prints progress to stderr when --verbose is set.
func VerboseLog(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// IsJSONOutput reports whether --json is set. Subcommands pick their
// output format with it.
func IsJSONOutput() bool { return jsonOutput }
