package zen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"miszen/internal/protocol"
)

// DefaultHistoryLimit bounds the execution history when Options leaves it unset.
const DefaultHistoryLimit = 10000

const errNotConnected = "not connected to zen-MCP server"

// Requester is the part of a protocol connection the adapter needs.
type Requester interface {
	Request(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error)
	IsOpen() bool
	Close() error
}

// Dialer opens a new connection to the zen-MCP server.
type Dialer func(ctx context.Context) (Requester, error)

// TCPDialer dials with protocol.Dial.
func TCPDialer(opts protocol.Options) Dialer {
	return func(ctx context.Context) (Requester, error) {
		return protocol.Dial(ctx, opts)
	}
}

// Options tunes the adapter. Zero values fall back to the built-in defaults.
type Options struct {
	Timeouts       map[string]time.Duration
	DefaultTimeout time.Duration
	HistoryLimit   int
	RetryCount     int
	RetryDelay     time.Duration
	Logger         *slog.Logger
}

// CommandResult is the outcome of one Execute call.
type CommandResult struct {
	Command       string          `json:"command"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time"`
	Timestamp     time.Time       `json:"timestamp"`
}

// CommandStats aggregates history for one command. Times are in seconds.
type CommandStats struct {
	TotalExecutions int     `json:"total_executions"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	TotalTime       float64 `json:"total_time"`
	AvgTime         float64 `json:"avg_time"`
}

// Adapter turns command names into zen-MCP requests and keeps a bounded
// history of every execution.
type Adapter struct {
	dial   Dialer
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	conn    Requester
	history []CommandResult
}

func NewAdapter(dial Dialer, opts Options) *Adapter {
	if opts.Timeouts == nil {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.RetryCount < 1 {
		opts.RetryCount = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		dial:   dial,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Connect dials the server, retrying with exponential backoff up to
// RetryCount attempts. An existing connection is replaced.
func (a *Adapter) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= a.opts.RetryCount; attempt++ {
		conn, err := a.dial(ctx)
		if err == nil {
			a.mu.Lock()
			old := a.conn
			a.conn = conn
			a.mu.Unlock()
			if old != nil {
				old.Close()
			}
			a.logger.Info("zen_connected", "attempt", attempt)
			return nil
		}

		lastErr = err
		a.logger.Warn("zen_connect_failed",
			"attempt", attempt,
			"max_attempts", a.opts.RetryCount,
			"error", err,
		)
		if attempt == a.opts.RetryCount {
			break
		}

		backoff := a.opts.RetryDelay * time.Duration(1<<uint(attempt-1))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.logger.Error("zen_connect_gave_up", "error", lastErr)
	return fmt.Errorf("failed to connect to zen-MCP server after %d attempts: %w", a.opts.RetryCount, lastErr)
}

// Disconnect closes the current connection, if any.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	a.logger.Info("zen_disconnected")
	return conn.Close()
}

// IsConnected is true while a connection exists and is open.
func (a *Adapter) IsConnected() bool {
	conn := a.connection()
	return conn != nil && conn.IsOpen()
}

// Timeout returns the configured timeout for command.
func (a *Adapter) Timeout(command string) time.Duration {
	if d, ok := a.opts.Timeouts[command]; ok && d > 0 {
		return d
	}
	return a.opts.DefaultTimeout
}

// Execute runs command on the server. Failures never escape as errors, they
// come back as an unsuccessful CommandResult. Every call is recorded.
func (a *Adapter) Execute(ctx context.Context, command string, params map[string]any) CommandResult {
	start := time.Now()

	conn := a.connection()
	if conn == nil || !conn.IsOpen() {
		a.logger.Warn("command_rejected", "command", command, "reason", errNotConnected)
		return a.record(CommandResult{
			Command:   command,
			Error:     errNotConnected,
			Timestamp: start,
		})
	}

	req := withDefaultModel(command, params)
	timeout := a.Timeout(command)

	raw, err := conn.Request(ctx, MethodPrefix+command, req, timeout)
	result := CommandResult{
		Command:       command,
		ExecutionTime: time.Since(start),
		Timestamp:     start,
	}

	var perr *protocol.Error
	switch {
	case err == nil:
		result.Success = true
		result.Result = raw
	case errors.Is(err, protocol.ErrRequestTimeout):
		result.Error = fmt.Sprintf("command %s timed out after %s", command, timeout)
	case errors.As(err, &perr):
		result.Error = fmt.Sprintf("MCP error in %s: %s", command, perr.Message)
	default:
		result.Error = fmt.Sprintf("unexpected error in %s: %v", command, err)
	}

	if result.Success {
		a.logger.Info("command_executed",
			"command", command,
			"duration_ms", result.ExecutionTime.Milliseconds(),
		)
	} else {
		a.logger.Error("command_failed",
			"command", command,
			"duration_ms", result.ExecutionTime.Milliseconds(),
			"error", result.Error,
		)
	}
	return a.record(result)
}

// History returns a copy of the recorded results, filtered by command when
// command is non-empty.
func (a *Adapter) History(command string) []CommandResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]CommandResult, 0, len(a.history))
	for _, r := range a.history {
		if command == "" || r.Command == command {
			out = append(out, r)
		}
	}
	return out
}

// Stats aggregates the current history per command.
func (a *Adapter) Stats() map[string]CommandStats {
	snapshot := a.History("")

	stats := make(map[string]CommandStats)
	for _, r := range snapshot {
		s := stats[r.Command]
		s.TotalExecutions++
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		s.TotalTime += r.ExecutionTime.Seconds()
		stats[r.Command] = s
	}
	for cmd, s := range stats {
		s.AvgTime = s.TotalTime / float64(s.TotalExecutions)
		stats[cmd] = s
	}
	return stats
}

func (a *Adapter) connection() Requester {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn
}

func (a *Adapter) record(r CommandResult) CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, r)
	if len(a.history) > a.opts.HistoryLimit {
		a.history = a.history[len(a.history)-a.opts.HistoryLimit:]
	}
	return r
}

// withDefaultModel copies params and fills in a model when none is set.
func withDefaultModel(command string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if m, ok := out["model"]; !ok || m == nil || m == "" {
		out["model"] = DefaultModel(command)
	}
	return out
}
