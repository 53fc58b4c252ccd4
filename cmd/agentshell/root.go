package main

import (
	"github.com/spf13/cobra"

	"github.com/zhubert/agentshell/config"
	"github.com/zhubert/agentshell/logger"
)

// rootOptions holds the global flags and the config they resolve to.
type rootOptions struct {
	configPath string
	socketPath string
	debug      bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "agentshell",
		Short: "Process and IPC core for a voice-capable agent desktop shell",
		Long: `agentshell supervises an external Python agent, keeps the Indicator and
Interaction windows in step with it, and relays commands and events between
UI surfaces over a Unix socket.

Examples:
  # Run the shell core
  agentshell serve

  # Check which Python interpreter would be used
  agentshell doctor

  # Talk to a running shell
  agentshell start
  agentshell send "what's on my calendar?"
  agentshell voice start
  agentshell watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is the agentshell config dir)")
	cmd.PersistentFlags().StringVar(&opts.socketPath, "socket", "", "IPC socket path (overrides socket_path)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newDoctorCmd(opts),
		newInitCmd(opts),
		newLogsCmd(opts),
		newStartCmd(opts),
		newStopCmd(opts),
		newSendCmd(opts),
		newVoiceCmd(opts),
		newOpenCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.socketPath != "" {
		cfg.SocketPath = o.socketPath
	}
	if o.debug {
		cfg.Debug = true
	}
	logger.SetDebug(cfg.Debug)
	o.cfg = cfg
	return nil
}
