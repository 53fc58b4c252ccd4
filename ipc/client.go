package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClientClosed is returned by Send once the connection is gone.
var ErrClientClosed = errors.New("ipc client closed")

// DefaultClientEventBuffer is the number of undelivered events a client
// holds before dropping new ones.
const DefaultClientEventBuffer = 256

// SocketClient is a UI-surface connection to a SocketServer. Send may be
// called concurrently; responses are matched to requests by ID.
type SocketClient struct {
	socketPath string
	conn       net.Conn
	log        *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	err     error

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the server at socketPath.
func Dial(socketPath string) (*SocketClient, error) {
	return DialContext(context.Background(), socketPath)
}

// DialContext connects to the server at socketPath, honoring ctx while
// connecting.
func DialContext(ctx context.Context, socketPath string) (*SocketClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}

	c := &SocketClient{
		socketPath: socketPath,
		conn:       conn,
		log:        slog.Default().With("component", "socket-client"),
		pending:    make(map[string]chan Response),
		events:     make(chan Event, DefaultClientEventBuffer),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns broadcast events. The channel is closed when the
// connection ends.
func (c *SocketClient) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *SocketClient) Done() <-chan struct{} {
	return c.done
}

// Send issues req and waits for its response. An empty req.ID is replaced
// with a fresh one.
func (c *SocketClient) Send(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(Frame{Type: FrameRequest, Request: &req})
	if err != nil {
		return Response{}, err
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	_, err = c.conn.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("write %s request: %w", req.Command, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-c.done:
		// The response may have raced the disconnect.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return Response{}, c.closeErr()
	}
}

func (c *SocketClient) readLoop() {
	defer c.shutdown(ErrClientClosed)

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClientClosed, err))
			return
		}

		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			c.log.Warn("JSON parse error", "error", err)
			continue
		}

		switch frame.Type {
		case FrameResponse:
			if frame.Response == nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[frame.Response.ID]
			delete(c.pending, frame.Response.ID)
			c.mu.Unlock()
			if ok {
				ch <- *frame.Response
			} else {
				c.log.Debug("response for unknown request", "id", frame.Response.ID)
			}
		case FrameEvent:
			if frame.Event == nil {
				continue
			}
			select {
			case c.events <- *frame.Event:
			default:
				c.log.Warn("event buffer full, dropping event", "type", frame.Event.Type)
			}
		default:
			c.log.Warn("unexpected frame from server", "type", frame.Type)
		}
	}
}

func (c *SocketClient) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

// shutdown records err, wakes pending senders and closes the event channel.
// Only the read loop calls it, so events is never written after close.
func (c *SocketClient) shutdown(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.pending = make(map[string]chan Response)
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	close(c.events)
}

// Close disconnects from the server.
func (c *SocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
