package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentshell/logger"
	"github.com/zhubert/agentshell/shell"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shell core until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath == "" {
				p, err := logger.DefaultLogPath()
				if err != nil {
					return err
				}
				logPath = p
			}
			if err := logger.Init(logPath); err != nil {
				return err
			}
			defer logger.Close()

			app, err := shell.New(opts.cfg, shell.WithLogger(logger.Get()))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s\n", okStyle.Render("agentshell"), opts.cfg.SocketPath)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", dimStyle.Render("logging to "+logPath))
			return app.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&logPath, "log-file", "", "log file (default is the agentshell logs dir)")
	return cmd
}
