package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultProtocolVersion  = "1.0"
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultDialTimeout      = 10 * time.Second

	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
)

// ClientInfo identifies this side during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Options configures Dial.
type Options struct {
	Host             string
	Port             int
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	ProtocolVersion  string
	ClientInfo       ClientInfo
	Logger           *slog.Logger
}

// DefaultOptions returns options for a local zen-MCP server.
func DefaultOptions() Options {
	return Options{
		Host:             "localhost",
		Port:             8765,
		DialTimeout:      DefaultDialTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ProtocolVersion:  DefaultProtocolVersion,
		ClientInfo:       ClientInfo{Name: "miszen", Version: "0.1.0"},
	}
}

// Dial opens a TCP stream to the server and performs the initialize
// handshake. On any failure the connection is closed before returning.
func Dial(ctx context.Context, opts Options) (*Connection, error) {
	opts = withDefaults(opts)
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := NewConnection(conn, opts.Logger.With("remote_addr", addr))
	c.Start()

	if err := c.Initialize(ctx, opts.ProtocolVersion, opts.ClientInfo, opts.HandshakeTimeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake with %s failed: %w", addr, err)
	}
	return c, nil
}

// Initialize runs the handshake on a started connection and marks it Open.
func (c *Connection) Initialize(ctx context.Context, protocolVersion string, info ClientInfo, timeout time.Duration) error {
	result, err := c.Request(ctx, MethodInitialize, map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    info.Name,
			"version": info.Version,
		},
	}, timeout)
	if err != nil {
		return err
	}

	c.markOpen(result)
	if err := c.Notify(MethodInitialized, nil); err != nil {
		return err
	}

	c.logger.Info("handshake_completed",
		"protocol_version", protocolVersion,
		"client_name", info.Name,
	)
	return nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Host == "" {
		opts.Host = def.Host
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = def.ProtocolVersion
	}
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo = def.ClientInfo
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
