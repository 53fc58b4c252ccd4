package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// SocketWriteTimeout bounds every frame write to a connection.
	SocketWriteTimeout = 10 * time.Second

	// DefaultEventQueueSize is the number of events buffered per connection
	// before new events are dropped.
	DefaultEventQueueSize = 256

	// DefaultMaxFrameSize is the largest request frame a connection may
	// send. A longer line closes the connection.
	DefaultMaxFrameSize = 1 << 20

	initialReadBuffer = 64 * 1024
)

// SocketServer exposes a Bridge on a Unix socket. Every connection is a UI
// surface: it may send requests and receives every broadcast event.
type SocketServer struct {
	socketPath string
	bridge     *Bridge
	listener   net.Listener
	queueSize  int
	maxFrame   int
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex
	wg       sync.WaitGroup
	readyCh  chan struct{}

	connsMu sync.Mutex
	conns   map[string]*connection
}

// SocketServerOption configures optional SocketServer behavior.
type SocketServerOption func(*SocketServer)

// WithServerLogger sets the server's logger.
func WithServerLogger(log *slog.Logger) SocketServerOption {
	return func(s *SocketServer) {
		s.log = log
	}
}

// WithEventQueueSize sets the per-connection event buffer.
func WithEventQueueSize(n int) SocketServerOption {
	return func(s *SocketServer) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithMaxFrameSize sets the largest accepted request frame in bytes.
func WithMaxFrameSize(n int) SocketServerOption {
	return func(s *SocketServer) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// NewSocketServer listens on socketPath, removing a stale socket left by a
// previous run.
func NewSocketServer(socketPath string, bridge *Bridge, opts ...SocketServerOption) (*SocketServer, error) {
	s := &SocketServer{
		socketPath: socketPath,
		bridge:     bridge,
		queueSize:  DefaultEventQueueSize,
		maxFrame:   DefaultMaxFrameSize,
		log:        slog.Default(),
		readyCh:    make(chan struct{}),
		conns:      make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "socket-server")

	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		s.log.Error("failed to listen", "path", socketPath, "error", err)
		return nil, err
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		s.log.Warn("failed to restrict socket permissions", "error", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log.Info("listening", "path", socketPath)
	return s, nil
}

// SocketPath returns the path to the socket.
func (s *SocketServer) SocketPath() string {
	return s.socketPath
}

// Connections returns the number of connected surfaces.
func (s *SocketServer) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Start launches Run in a goroutine. The WaitGroup is incremented before the
// goroutine starts so Close cannot miss it.
func (s *SocketServer) Start() {
	s.wg.Add(1)
	go s.Run()
}

// WaitReady blocks until the server is accepting connections.
func (s *SocketServer) WaitReady() {
	<-s.readyCh
}

// Run accepts connections until Close. Use Start rather than calling go Run()
// directly.
func (s *SocketServer) Run() {
	defer s.wg.Done()

	close(s.readyCh)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping accept loop")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		c := s.register(conn)
		if c == nil {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

func (s *SocketServer) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

func (s *SocketServer) register(conn net.Conn) *connection {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return nil
	}

	id := uuid.NewString()
	c := &connection{
		id:       id,
		conn:     conn,
		events:   make(chan Event, s.queueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		log:      s.log.With("conn", id),
	}
	s.connsMu.Lock()
	s.conns[id] = c
	s.connsMu.Unlock()
	return c
}

func (s *SocketServer) handleConnection(c *connection) {
	defer s.wg.Done()
	c.log.Debug("connection accepted")

	sub := s.bridge.Subscribe(c.enqueue)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeEvents()
	}()

	defer func() {
		sub.Unsubscribe()
		c.close()
		<-writerDone
		s.connsMu.Lock()
		delete(s.conns, c.id)
		s.connsMu.Unlock()
		c.log.Debug("connection closed")
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, min(initialReadBuffer, s.maxFrame)), s.maxFrame)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			c.log.Error("JSON parse error", "error", err)
			c.writeResponse(Fail("malformed frame"))
			continue
		}
		if frame.Type != FrameRequest || frame.Request == nil {
			c.log.Warn("unexpected frame from client", "type", frame.Type)
			continue
		}

		resp := s.bridge.Dispatch(s.ctx, *frame.Request)
		if err := c.writeResponse(resp); err != nil {
			c.log.Warn("failed to write response", "command", frame.Request.Command, "error", err)
			return
		}
	}

	switch err := scanner.Err(); {
	case errors.Is(err, bufio.ErrTooLong):
		c.log.Warn("frame exceeds size limit, closing connection", "limit", s.maxFrame)
		c.writeResponse(Fail("frame too large"))
	case err != nil && !errors.Is(err, net.ErrClosed):
		c.log.Warn("read error", "error", err)
	}
}

// Close stops accepting connections, flushes queued events, disconnects
// every surface and removes the socket file. It is safe to call more than once.
func (s *SocketServer) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	s.log.Info("closing")
	s.cancel()
	err := s.listener.Close()

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.stop()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)
	return err
}

// connection is one connected surface. Responses and events are written
// under writeMu, one frame at a time.
type connection struct {
	id   string
	conn net.Conn
	log  *slog.Logger

	writeMu sync.Mutex
	events  chan Event

	stopping chan struct{} // server shutdown: flush queued events, then close
	stopOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// enqueue is the bridge subscription. It never blocks the broadcaster.
func (c *connection) enqueue(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

func (c *connection) writeEvents() {
	for {
		select {
		case <-c.done:
			return
		case <-c.stopping:
			c.flush()
			c.close()
			return
		case ev := <-c.events:
			if err := c.writeEvent(ev); err != nil {
				c.close()
				return
			}
		}
	}
}

// flush writes events already queued, stopping at the first failure.
func (c *connection) flush() {
	for {
		select {
		case ev := <-c.events:
			if err := c.writeEvent(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) writeEvent(ev Event) error {
	err := c.writeFrame(Frame{Type: FrameEvent, Event: &ev})
	if err != nil {
		c.log.Warn("failed to write event", "type", ev.Type, "error", err)
	}
	return err
}

func (c *connection) writeResponse(resp Response) error {
	return c.writeFrame(Frame{Type: FrameResponse, Response: &resp})
}

func (c *connection) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(SocketWriteTimeout))
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// stop asks the writer to flush and close the connection.
func (c *connection) stop() {
	c.stopOnce.Do(func() { close(c.stopping) })
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
