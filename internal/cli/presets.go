// Package cli — presets.go implements the "bottest presets" command.
package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/bottest/internal/model"
)

// NewPresetsCommand creates the "presets" cobra command, which lists
// the built-in configurations accepted by "up --preset" and by the
// preset field of a config file.
func NewPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in environment presets",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPresets()
		},
	}
}

// presetOutput is the JSON shape printed by "presets --json".
type presetOutput struct {
	Name          string `json:"name"`
	Postgres      bool   `json:"postgres"`
	Minio         bool   `json:"minio"`
	Redis         bool   `json:"redis"`
	RunMigrations bool   `json:"runMigrations"`
}

func runPresets() error {
	names := make([]string, 0, len(model.Presets))
	for name := range model.Presets {
		names = append(names, name)
	}
	sort.Strings(names)

	if IsJSONOutput() {
		out := make([]presetOutput, 0, len(names))
		for _, name := range names {
			cfg := model.Presets[name]()
			out = append(out, presetOutput{
				Name:          name,
				Postgres:      cfg.Postgres,
				Minio:         cfg.Minio,
				Redis:         cfg.Redis,
				RunMigrations: cfg.RunMigrations,
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode output", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, name := range names {
		cfg := model.Presets[name]()
		fmt.Printf("  %-14s %s\n", name, describeConfig(cfg))
	}
	return nil
}

// describeConfig renders a one-line summary of what a configuration
// enables.
func describeConfig(cfg model.Config) string {
	var parts []string
	if cfg.Postgres {
		s := "postgres"
		if cfg.RunMigrations {
			s += "+migrations"
		}
		parts = append(parts, s)
	}
	if cfg.Minio {
		parts = append(parts, "minio")
	}
	if cfg.Redis {
		parts = append(parts, "redis")
	}
	if len(parts) == 0 {
		return "ports and directory only"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
