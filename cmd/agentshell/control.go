package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zhubert/agentshell/ipc"
	"github.com/zhubert/agentshell/window"
)

// requestTimeout covers interpreter probing on start-agent.
const requestTimeout = 15 * time.Second

func dialShell(ctx context.Context, opts *rootOptions) (*ipc.SocketClient, error) {
	client, err := ipc.DialContext(ctx, opts.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("agentshell is not running (no socket at %s)", opts.cfg.SocketPath)
	}
	return client, nil
}

// sendCommand issues one request and turns a failed response into an error.
func sendCommand(ctx context.Context, opts *rootOptions, req ipc.Request) (ipc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client, err := dialShell(ctx, opts)
	if err != nil {
		return ipc.Response{}, err
	}
	defer client.Close()

	resp, err := client.Send(ctx, req)
	if err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, errors.New(resp.Message)
	}
	return resp, nil
}

// simpleCommand builds a subcommand that sends one request and prints done.
func simpleCommand(opts *rootOptions, use, short string, command ipc.Command, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendCommand(cmd.Context(), opts, ipc.Request{Command: command}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", check(true), done)
			return nil
		},
	}
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return simpleCommand(opts, "start", "Start the agent", ipc.CommandStartAgent, "agent started")
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return simpleCommand(opts, "stop", "Stop the agent", ipc.CommandStopAgent, "agent stopping")
}

func newOpenCmd(opts *rootOptions) *cobra.Command {
	return simpleCommand(opts, "open", "Open the Interaction window", ipc.CommandOpenInteraction, "interaction window opened")
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send [text]...",
		Short: "Send a line of text to the agent",
		Long: `Send a line of text to the agent. With no arguments, each line read from a
piped stdin is sent in turn.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				req := ipc.Request{Command: ipc.CommandSendToAgent, Text: strings.Join(args, " ")}
				_, err := sendCommand(cmd.Context(), opts, req)
				return err
			}

			in := cmd.InOrStdin()
			if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return errors.New("nothing to send: pass text as arguments or pipe it on stdin")
			}
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				req := ipc.Request{Command: ipc.CommandSendToAgent, Text: scanner.Text()}
				if _, err := sendCommand(cmd.Context(), opts, req); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
}

func newVoiceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Control voice mode",
	}
	cmd.AddCommand(
		simpleCommand(opts, "start", "Start voice mode", ipc.CommandStartVoiceMode, "voice mode started"),
		simpleCommand(opts, "stop", "Stop voice mode", ipc.CommandStopVoiceMode, "voice mode stopped"),
	)
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the agent and window state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendCommand(cmd.Context(), opts, ipc.Request{Command: ipc.CommandGetStatus})
			if err != nil {
				return err
			}
			if resp.Status == nil {
				return errors.New("shell returned no status")
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Status)
			}
			printStatus(cmd.OutOrStdout(), resp.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")
	return cmd
}

func printStatus(w io.Writer, st *ipc.Status) {
	a := st.Agent
	agentLine := a.State.String()
	switch {
	case a.Running:
		agentLine = okStyle.Render(agentLine) + dimStyle.Render(fmt.Sprintf(" pid %d", a.Pid))
	case a.ExitCode != nil:
		agentLine = warnStyle.Render(agentLine) + dimStyle.Render(fmt.Sprintf(" code %d", *a.ExitCode))
	default:
		agentLine = dimStyle.Render(agentLine)
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("agent"), agentLine)

	voice := dimStyle.Render("off")
	if a.VoiceActive {
		voice = okStyle.Render("on")
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("voice"), voice)

	for _, ws := range st.Windows {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(ws.Kind.String()), describeWindow(ws))
	}
}

func describeWindow(ws window.State) string {
	if !ws.Exists {
		return dimStyle.Render("closed")
	}
	b := ws.Bounds
	geom := dimStyle.Render(fmt.Sprintf(" %dx%d at %d,%d", b.Width, b.Height, b.X, b.Y))
	if ws.Visible {
		return okStyle.Render("visible") + geom
	}
	return warnStyle.Render("hidden") + geom
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream agent and window events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialShell(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev, ok := <-client.Events():
					if !ok {
						fmt.Fprintln(out, dimStyle.Render("shell disconnected"))
						return nil
					}
					if asJSON {
						if err := enc.Encode(ev); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintln(out, formatEvent(ev))
				}
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return cmd
}

func formatEvent(ev ipc.Event) string {
	switch ev.Type {
	case ipc.EventAgentOutput:
		return outputStyle.Render(ev.Text)
	case ipc.EventAgentError:
		return errorStyle.Render("! ") + ev.Line
	case ipc.EventAgentClosed:
		code := 0
		if ev.Code != nil {
			code = *ev.Code
		}
		return warnStyle.Render(fmt.Sprintf("agent exited (code %d)", code))
	case ipc.EventStopMicrophone:
		return dimStyle.Render("microphone released")
	case ipc.EventWindowState:
		if ev.Window == nil {
			return dimStyle.Render("window changed")
		}
		return dimStyle.Render(ev.Window.Kind.String()+": ") + describeWindow(*ev.Window)
	default:
		return dimStyle.Render(string(ev.Type))
	}
}
