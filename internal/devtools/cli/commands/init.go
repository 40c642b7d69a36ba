// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"melrun/pkg/config"
)

// NewInitCommand returns the `melrun init` command.
func NewInitCommand() *cobra.Command {
	var configPath string
	var projectName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a minimal melrun.yml into the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			exists, err := config.Exists(configPath)
			if err != nil {
				return fmt.Errorf("checking existing config at %s: %w", configPath, err)
			}
			if exists {
				return fmt.Errorf("config already exists at %s", configPath)
			}

			if projectName == "" {
				projectName = "counter-demo"
			}

			opts := config.HostOptions{
				Project:   config.ProjectOptions{Name: projectName},
				Initial:   config.InitialOptions{Data: map[string]any{"count": 0.0}},
				Scheduler: config.DefaultScheduler(),
			}

			data, err := yaml.Marshal(&opts)
			if err != nil {
				return fmt.Errorf("marshaling default config: %w", err)
			}

			// nolint:gosec // G306: a readable, non-secret local config file is intended
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("writing config to %s: %w", configPath, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to write melrun.yml")
	cmd.Flags().StringVar(&projectName, "project", "", "project name to seed into the config")

	return cmd
}
