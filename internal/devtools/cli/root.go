// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli wires together the melrun root Cobra command and its
// subcommands.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"melrun/internal/devtools/cli/commands"
)

// NewRootCommand constructs the melrun root Cobra command.
func NewRootCommand() *cobra.Command {
	version := os.Getenv("MELRUN_VERSION")
	if version == "" {
		version = "0.0.0-dev"
	}

	cmd := &cobra.Command{
		Use:           "melrun",
		Short:         "melrun – run a canned schema through the kernel host loop",
		Long:          "melrun loads host configuration and drives a schema's actions through the governance-mediated host loop, for local inspection.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to melrun.yml")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the melrun version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("melrun version " + version)
		},
	})

	// Subcommands registered in lexicographic order by .Use for
	// deterministic help output.
	cmd.AddCommand(commands.NewInitCommand())
	cmd.AddCommand(commands.NewRunCommand())

	return cmd
}
