package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle position of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NotificationHandler receives the params of an inbound notification.
type NotificationHandler func(params map[string]any) error

// Connection multiplexes requests over one duplex stream. Responses are
// matched to callers by id, everything else with a method goes to the
// registered notification handlers.
type Connection struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex // serialises frames on writer

	mu       sync.RWMutex // guards state, pending, handlers
	state    State
	pending  map[string]chan *Message
	handlers map[string][]NotificationHandler

	serverInfo json.RawMessage

	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewConnection wraps rwc. The reader is not running until Start.
func NewConnection(rwc io.ReadWriteCloser, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		rwc:      rwc,
		reader:   bufio.NewReader(rwc),
		writer:   bufio.NewWriter(rwc),
		state:    StateDisconnected,
		pending:  make(map[string]chan *Message),
		handlers: make(map[string][]NotificationHandler),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the reader goroutine and moves the connection to
// Connecting. Requests are accepted from this point on.
func (c *Connection) Start() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsOpen is true once the handshake has completed and until Close.
func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

// Done is closed when the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ServerInfo is the raw initialize result, nil before the handshake.
func (c *Connection) ServerInfo() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// OnNotification appends handler to the list for method. Handlers run on the
// reader goroutine in registration order and must not call Close or Request:
// the reader cannot deliver a response while it is blocked in a handler. A
// handler that needs a follow-up request must issue it from its own goroutine.
func (c *Connection) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

// Request sends method with params and waits for the matching response.
// A non-positive timeout waits until ctx is done or the connection closes.
func (c *Connection) Request(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	msg := NewRequest(method, params)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil, ErrNotOpen
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil, closedError()
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.removePending(msg.ID)
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, closedError()
		}
		if resp.Error != nil {
			return nil, remoteError(resp.Error)
		}
		return resp.Result, nil
	case <-timeoutC:
		c.removePending(msg.ID)
		c.logger.Warn("request_timeout",
			"method", method,
			"request_id", msg.ID,
			"timeout", timeout.String(),
		)
		return nil, timeoutError(method)
	case <-ctx.Done():
		c.removePending(msg.ID)
		return nil, ctx.Err()
	}
}

// Notify writes a notification frame without waiting for anything back.
func (c *Connection) Notify(method string, params map[string]any) error {
	switch c.State() {
	case StateDisconnected:
		return ErrNotOpen
	case StateClosing, StateClosed:
		return closedError()
	}
	if err := c.send(NewNotification(method, params)); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", method, err)
	}
	return nil
}

// Close stops the reader, closes the stream and fails every pending request
// with a connection-closed error. Safe to call more than once.
func (c *Connection) Close() error {
	err := c.shutdown()
	c.wg.Wait()
	return err
}

func (c *Connection) pendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

func (c *Connection) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// markOpen promotes Connecting to Open. Later states are left alone.
func (c *Connection) markOpen(serverInfo json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverInfo = serverInfo
	if c.state == StateConnecting {
		c.state = StateOpen
	}
}

func (c *Connection) send(msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 && errors.Is(err, io.EOF) {
				// last frame without a trailing newline
				c.handleFrame(line)
			}
			c.logReadError(err)
			return
		}
		c.handleFrame(line)
	}
}

func (c *Connection) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("peer_disconnected")
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		strings.Contains(err.Error(), "closed network connection"):
		// local Close
	default:
		c.logger.Error("connection_read_error", "error", err)
	}
}

func (c *Connection) handleFrame(line []byte) {
	if len(line) > MaxFrameSize {
		c.logger.Warn("message_too_large",
			"size", len(line),
			"max_size", MaxFrameSize,
		)
		return
	}

	msg, err := Decode(line)
	if err != nil {
		c.logger.Warn("invalid_frame_dropped", "error", err.Error())
		return
	}

	if msg.ID != "" && c.resolve(msg) {
		return
	}
	if msg.Method != "" {
		c.dispatchNotification(msg)
		return
	}
	c.logger.Debug("unmatched_response_discarded", "request_id", msg.ID)
}

// resolve hands msg to the waiting caller. The entry is removed under the
// lock so a racing timeout or close cannot see it afterwards.
func (c *Connection) resolve(msg *Message) bool {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

func (c *Connection) dispatchNotification(msg *Message) {
	c.mu.RLock()
	handlers := append([]NotificationHandler(nil), c.handlers[msg.Method]...)
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("notification_without_handler", "method", msg.Method)
		return
	}
	for i, h := range handlers {
		c.runHandler(msg.Method, i, h, msg.Params)
	}
}

func (c *Connection) runHandler(method string, index int, h NotificationHandler, params map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification_handler_panic",
				"method", method,
				"handler", index,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := h(params); err != nil {
		c.logger.Error("notification_handler_failed",
			"method", method,
			"handler", index,
			"error", err,
		)
	}
}

func (c *Connection) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		c.mu.Unlock()

		err = c.rwc.Close()

		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.state = StateClosed
		c.mu.Unlock()

		close(c.done)
		c.logger.Debug("connection_closed")
	})
	return err
}
