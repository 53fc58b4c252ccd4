package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentshell/logger"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var clearLogs bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the log file location, or remove old logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearLogs {
				n, err := logger.ClearLogs()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d log file(s)\n", n)
				return nil
			}

			path, err := logger.DefaultLogPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearLogs, "clear", false, "remove agentshell log files")
	return cmd
}
