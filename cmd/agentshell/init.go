package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentshell/config"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force    bool
		agentDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.FilePath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if agentDir != "" {
				abs, err := filepath.Abs(agentDir)
				if err != nil {
					return err
				}
				cfg.Agent.Dir = abs
			}
			cfg.SetFilePath(path)
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", check(true), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().StringVar(&agentDir, "agent-dir", "", "agent project directory (default is the current directory)")
	return cmd
}
