package shell

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhubert/agentshell/agent"
	"github.com/zhubert/agentshell/ipc"
)

func (a *App) registerHandlers() {
	b := a.bridge

	b.Handle(ipc.CommandOpenInteraction, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.windows.OpenInteraction())
	})
	b.Handle(ipc.CommandIndicatorClicked, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.windows.IndicatorClicked())
	})
	b.Handle(ipc.CommandInteractionClosed, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.windows.InteractionClosed())
	})
	b.Handle(ipc.CommandDisplayMetricsChanged, func(ctx context.Context, req ipc.Request) ipc.Response {
		if req.Display == nil {
			return ipc.Fail("display-metrics-changed requires a display")
		}
		return a.respond(a.windows.DisplayMetricsChanged(*req.Display))
	})

	b.Handle(ipc.CommandStartAgent, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.agent.Start(ctx))
	})
	b.Handle(ipc.CommandSendToAgent, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.agent.SendMessage(req.Text))
	})
	b.Handle(ipc.CommandStartVoiceMode, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.agent.StartVoiceMode())
	})
	b.Handle(ipc.CommandStopVoiceMode, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.agent.StopVoiceMode())
	})
	b.Handle(ipc.CommandStopAgent, func(ctx context.Context, req ipc.Request) ipc.Response {
		return a.respond(a.agent.Stop())
	})

	b.Handle(ipc.CommandGetStatus, func(ctx context.Context, req ipc.Request) ipc.Response {
		resp := ipc.OK()
		resp.Status = &ipc.Status{
			Agent:   a.agent.Status(),
			Windows: a.windows.Snapshot(),
		}
		return resp
	})
}

func (a *App) respond(err error) ipc.Response {
	if err == nil {
		return ipc.OK()
	}
	return ipc.Fail(a.userMessage(err))
}

// userMessage turns an operation error into text a UI surface can show as
// a notification.
func (a *App) userMessage(err error) string {
	switch {
	case errors.Is(err, agent.ErrInterpreterNotFound):
		return fmt.Sprintf("Python 3 was not found. Install Python 3, or set %s to the interpreter path.", a.cfg.Agent.InterpreterEnv)
	case errors.Is(err, agent.ErrSpawnFailed):
		return fmt.Sprintf("The agent could not be started: %v", err)
	case errors.Is(err, agent.ErrNotRunning):
		return "The agent is not running."
	case errors.Is(err, agent.ErrWriteFailed):
		return "The agent is not accepting input."
	default:
		return err.Error()
	}
}
