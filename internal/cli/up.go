// Package cli — up.go implements the "bottest up" command.
//
// The up command is the primary user-facing operation. It brings up a
// complete environment, prints its connection details, keeps it running
// until interrupted, and tears everything down again on exit.
//
// Orchestration steps:
//  1. Resolve the configuration (preset name or config file)
//  2. Preflight: verify the binaries the enabled services need exist
//  3. Set up the environment (ports, directory, services)
//  4. Output connection details (text or JSON)
//  5. Block until SIGINT/SIGTERM
//  6. Tear down
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/GeneralBots/bottest/internal/harness"
	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/services"
)

// upFlags holds the flag values for the up command.
// These are bound to cobra flags in NewUpCommand.
type upFlags struct {
	preset  string        // --preset: built-in configuration name
	config  string        // --config: configuration file path
	baseDir string        // --base-dir: parent directory for environment dirs
	timeout time.Duration // --timeout: limit on the whole setup phase
}

// NewUpCommand creates the "up" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewUpCommand() *cobra.Command {
	flags := &upFlags{}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start an environment and keep it running until interrupted",
		Long: `Start the services a configuration enables, print their connection
details, and keep the environment alive until Ctrl-C or SIGTERM. On
exit every service is stopped and the environment directory removed.

Examples:
  bottest up
  bottest up --preset full
  bottest up --config testenv.yaml --json
  bottest up --preset minimal --base-dir /tmp/envs`,

		Args: cobra.NoArgs,

		// RunE is used instead of Run so we can return errors. Cobra will
		// pass them to the Execute error handler in root.go.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.preset, "preset", "default", "Built-in preset to start (see 'bottest presets')")
	cmd.Flags().StringVar(&flags.config, "config", "", "Configuration file (.json, .jsonc, .yaml, .yml); overrides --preset")
	cmd.Flags().StringVar(&flags.baseDir, "base-dir", "", "Parent directory for environment directories (default: OS temp dir)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "Limit on the setup phase")

	return cmd
}

// runUp is the main orchestration function for the up command.
func runUp(ctx context.Context, flags *upFlags) error {
	cfg, err := resolveUpConfig(flags)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}
	VerboseLog("Configuration: postgres=%v minio=%v redis=%v migrations=%v",
		cfg.Postgres, cfg.Minio, cfg.Redis, cfg.RunMigrations)

	// Preflight before spending time on setup: a missing binary is the
	// most common failure and deserves its own exit code.
	if missing := missingBinaries(cfg); len(missing) > 0 {
		return model.NewCLIError(model.ExitBinaryNotFound,
			fmt.Sprintf("required binaries not found: %s (run 'bottest doctor')",
				strings.Join(missing, ", ")))
	}

	factory := harness.NewFactory()
	if flags.baseDir != "" {
		factory.BaseDir = flags.baseDir
	}
	if !verbose {
		factory.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.WarnLevel).With().Timestamp().Logger()
	}

	setupCtx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	env, err := factory.Setup(setupCtx, cfg)
	if env != nil {
		defer env.Teardown()
	}
	if err != nil {
		return model.WrapCLIError(model.ExitSetupFailed, "environment setup failed", err)
	}

	if outErr := printEnvironment(env); outErr != nil {
		return outErr
	}

	// Block until the user interrupts. NotifyContext unregisters the
	// handlers when cancelled, so a second Ctrl-C kills the process
	// immediately if teardown hangs.
	waitCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "Environment ready. Press Ctrl-C to tear down.")
	<-waitCtx.Done()
	fmt.Fprintln(os.Stderr, "Shutting down...")

	return nil
}

// resolveUpConfig turns the up flags into a Config. A --config file wins
// over --preset because the file itself names its base preset.
func resolveUpConfig(flags *upFlags) (model.Config, error) {
	if flags.config != "" {
		return harness.LoadConfig(flags.config)
	}
	return model.PresetConfig(flags.preset)
}

// missingBinaries returns the names of required binaries that could not
// be discovered, restricted to the services cfg enables.
func missingBinaries(cfg model.Config) []string {
	wanted := map[string]bool{}
	if cfg.Postgres {
		wanted["initdb"], wanted["postgres"], wanted["psql"] = true, true, true
	}
	if cfg.Minio {
		wanted["minio"] = true
	}
	if cfg.Redis {
		wanted["redis-server"], wanted["redis-cli"] = true, true
	}

	var missing []string
	for _, s := range services.Discover() {
		if wanted[s.Name] && !s.Found {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// envOutput is the JSON shape printed by "up --json".
type envOutput struct {
	ID       string            `json:"id"`
	Dir      string            `json:"dir"`
	Ports    map[string]uint16 `json:"ports"`
	Database string            `json:"databaseUrl,omitempty"`
	Minio    string            `json:"minioEndpoint,omitempty"`
	Redis    string            `json:"redisUrl,omitempty"`
	App      string            `json:"appUrl"`
}

// printEnvironment writes the environment's connection details to
// stdout, as JSON or text depending on the --json flag.
func printEnvironment(env *harness.Environment) error {
	if IsJSONOutput() {
		out := envOutput{
			ID:  env.ID().String(),
			Dir: env.Dir(),
			Ports: map[string]uint16{
				"postgres": env.Ports().Postgres,
				"minio":    env.Ports().Minio,
				"redis":    env.Ports().Redis,
				"app":      env.Ports().App,
			},
			App: env.AppURL(),
		}
		if env.Config().Postgres {
			out.Database = env.DatabaseURL()
		}
		if env.Config().Minio {
			out.Minio = env.MinioEndpoint()
		}
		if env.Config().Redis {
			out.Redis = env.RedisURL()
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode output", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Environment %s\n", env.ID())
	fmt.Printf("  Directory: %s\n", env.Dir())
	if env.Config().Postgres {
		fmt.Printf("  PostgreSQL: %s\n", env.DatabaseURL())
	}
	if env.Config().Minio {
		fmt.Printf("  MinIO:      %s (console %s)\n", env.MinioEndpoint(), env.Minio().ConsoleURL())
	}
	if env.Config().Redis {
		fmt.Printf("  Redis:      %s\n", env.RedisURL())
	}
	fmt.Printf("  App port:   %d (reserved, not started)\n", env.Ports().App)
	return nil
}
