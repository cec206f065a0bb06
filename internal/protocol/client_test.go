package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDial_HandshakeAndRequest(t *testing.T) {
	host, port := listenZenPeer(t, nil)

	opts := DefaultOptions()
	opts.Host = host
	opts.Port = port
	opts.Logger = discardLogger()

	conn, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, StateOpen, conn.State())
	assert.True(t, conn.IsOpen())

	var info struct {
		ProtocolVersion string     `json:"protocolVersion"`
		Client          ClientInfo `json:"client"`
	}
	require.NoError(t, json.Unmarshal(conn.ServerInfo(), &info))
	assert.Equal(t, "1.0", info.ProtocolVersion)
	assert.Equal(t, ClientInfo{Name: "miszen", Version: "0.1.0"}, info.Client)

	raw, err := conn.Request(context.Background(), "zen__version", map[string]any{"model": "gemini-2.5-flash"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", decodeResult(t, raw)["model"])
}

func TestDial_HandshakeRejected(t *testing.T) {
	host, port := listenZenPeer(t, &ErrorObject{Code: CodeInvalidRequest, Message: "unsupported protocol"})

	opts := DefaultOptions()
	opts.Host = host
	opts.Port = port
	opts.Logger = discardLogger()

	conn, err := Dial(context.Background(), opts)
	require.Error(t, err)
	assert.Nil(t, conn)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, CodeInvalidRequest, perr.Code)
	assert.Contains(t, err.Error(), "handshake")
}

func TestDial_HandshakeTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// accept and stay silent
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	addr := ln.Addr().(*net.TCPAddr)
	_, err = Dial(context.Background(), Options{
		Host:             addr.IP.String(),
		Port:             addr.Port,
		HandshakeTimeout: 100 * time.Millisecond,
		Logger:           discardLogger(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestTimeout)

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(time.Second):
	}
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = Dial(context.Background(), Options{
		Host:        addr.IP.String(),
		Port:        addr.Port,
		DialTimeout: 500 * time.Millisecond,
		Logger:      discardLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
