package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentshell/interpreter"
	"github.com/zhubert/agentshell/ipc"
	"github.com/zhubert/agentshell/logger"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the agent directory, interpreter and socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, headingStyle.Render("agentshell doctor"))
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("config"), cfg.FilePath())

			_, dirErr := os.Stat(cfg.Agent.Dir)
			fmt.Fprintf(out, "%s %s %s\n", labelStyle.Render("agent dir"), check(dirErr == nil), cfg.Agent.Dir)
			_, scriptErr := os.Stat(cfg.ScriptPath())
			fmt.Fprintf(out, "%s %s %s\n", labelStyle.Render("script"), check(scriptErr == nil), cfg.ScriptPath())

			if v := os.Getenv(cfg.Agent.InterpreterEnv); v != "" {
				fmt.Fprintf(out, "%s %s=%s\n", labelStyle.Render("override"), cfg.Agent.InterpreterEnv, v)
			}

			resolver := interpreter.New(cfg.Agent.Dir, cfg.Agent.InterpreterEnv, logger.WithComponent("interpreter"))
			results := resolver.Check(cmd.Context())
			fmt.Fprintln(out)
			fmt.Fprint(out, interpreter.FormatCheckResults(results))

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Second)
			defer cancel()
			running := false
			if client, err := ipc.DialContext(ctx, cfg.SocketPath); err == nil {
				running = true
				client.Close()
			}
			fmt.Fprintln(out)
			if running {
				fmt.Fprintf(out, "%s %s shell is running on %s\n", labelStyle.Render("socket"), check(true), cfg.SocketPath)
			} else {
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render("socket"), warnStyle.Render("no shell listening on "+cfg.SocketPath))
			}

			for _, r := range results {
				if r.OK() {
					return nil
				}
			}
			return errors.New("no usable Python 3 interpreter found")
		},
	}
}
