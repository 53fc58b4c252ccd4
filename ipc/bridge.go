package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/zhubert/agentshell/events"
)

// HandlerFunc handles one command.
type HandlerFunc func(ctx context.Context, req Request) Response

// Bridge routes requests to registered handlers and fans events out to
// subscribers. It is safe for concurrent use.
type Bridge struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[Command]HandlerFunc

	bus events.Bus[Event]
}

// NewBridge returns a bridge with no handlers.
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:      log,
		handlers: make(map[Command]HandlerFunc),
	}
}

// Handle registers fn for cmd, replacing any previous handler.
func (b *Bridge) Handle(cmd Command, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[cmd] = fn
}

// Dispatch runs the handler for req.Command. Unknown commands and handler
// panics become failed responses. The response always carries req.ID.
func (b *Bridge) Dispatch(ctx context.Context, req Request) (resp Response) {
	b.mu.RLock()
	fn, ok := b.handlers[req.Command]
	b.mu.RUnlock()

	if !ok {
		b.log.Warn("unknown command", "command", req.Command)
		resp = Fail(fmt.Sprintf("unknown command %q", req.Command))
		resp.ID = req.ID
		return resp
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("command handler panicked",
				"command", req.Command,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = Fail(fmt.Sprintf("internal error handling %s", req.Command))
		}
		resp.ID = req.ID
	}()

	b.log.Debug("dispatching command", "command", req.Command, "id", req.ID)
	return fn(ctx, req)
}

// Broadcast delivers ev to every subscriber in subscription order.
func (b *Bridge) Broadcast(ev Event) {
	b.bus.Publish(ev)
}

// Subscribe registers fn for every broadcast event.
func (b *Bridge) Subscribe(fn func(Event)) *events.Subscription[Event] {
	return b.bus.Subscribe(fn)
}

// Subscribers returns the number of active subscribers.
func (b *Bridge) Subscribers() int {
	return b.bus.Len()
}
