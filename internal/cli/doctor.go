// Package cli — doctor.go implements the "bottest doctor" command.
//
// The doctor command reports where each service binary would be loaded
// from, so a user can see at a glance why an environment fails to start
// and what to install.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/services"
)

// NewDoctorCommand creates the "doctor" cobra command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check which service binaries are available",
		Long: `Check where each service binary (initdb, postgres, psql, minio,
redis-server, ...) would be loaded from. Binaries are searched in the
BOTTEST_STACK_PATH layout first, then well-known install locations,
then $PATH.

Exits non-zero when a required binary is missing.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

// runDoctor prints the discovery report and fails when any required
// binary is absent.
func runDoctor() error {
	statuses := services.Discover()

	if IsJSONOutput() {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode output", err)
		}
		fmt.Println(string(data))
	} else {
		for _, s := range statuses {
			mark := "ok     "
			detail := s.Path
			if !s.Found {
				mark = "MISSING"
				detail = "not found"
				if !s.Required {
					mark = "absent "
					detail = "not found (optional)"
				}
			}
			fmt.Printf("  %s  %-14s %s\n", mark, s.Name, detail)
		}
	}

	var missing []string
	for _, s := range statuses {
		if s.Required && !s.Found {
			missing = append(missing, s.Name)
		}
	}
	if len(missing) > 0 {
		return model.NewCLIError(model.ExitBinaryNotFound,
			fmt.Sprintf("%d required binaries missing", len(missing)))
	}
	return nil
}
