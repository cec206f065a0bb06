package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePeer is the server side of a net.Pipe. It reads frames continuously so
// client writes never block, and lets the test answer them in any order.
type fakePeer struct {
	conn     net.Conn
	writeMu  sync.Mutex
	received chan *Message
}

func newFakePeer(conn net.Conn) *fakePeer {
	p := &fakePeer{
		conn:     conn,
		received: make(chan *Message, 128),
	}
	go p.readLoop()
	return p
}

func (p *fakePeer) readLoop() {
	defer close(p.received)
	reader := bufio.NewReader(p.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		msg, err := Decode(line)
		if err != nil {
			continue
		}
		p.received <- msg
	}
}

func (p *fakePeer) next(t *testing.T) *Message {
	t.Helper()
	select {
	case msg, ok := <-p.received:
		if !ok {
			t.Fatal("peer stream closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame from client")
	}
	return nil
}

func (p *fakePeer) writeRaw(t *testing.T, line string) {
	t.Helper()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
}

func (p *fakePeer) write(t *testing.T, msg *Message) {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("peer encode failed: %v", err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.conn.Write(data); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
}

func (p *fakePeer) reply(t *testing.T, req *Message, result any) {
	t.Helper()
	resp, err := NewResponse(req.ID, result)
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	p.write(t, resp)
}

// listenZenPeer starts a TCP server on a random port that answers initialize
// and echoes every other request's params back as the result.
func listenZenPeer(t *testing.T, initErr *ErrorObject) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveZenPeer(conn, initErr)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveZenPeer(conn net.Conn, initErr *ErrorObject) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		msg, err := Decode(line)
		if err != nil || msg.ID == "" {
			continue
		}

		var resp *Message
		switch {
		case msg.Method == MethodInitialize && initErr != nil:
			resp = NewErrorResponse(msg.ID, initErr.Code, initErr.Message, nil)
		case msg.Method == MethodInitialize:
			resp, _ = NewResponse(msg.ID, map[string]any{
				"protocolVersion": msg.Params["protocolVersion"],
				"serverInfo":      map[string]any{"name": "zen-fake", "version": "9.9.9"},
				"client":          msg.Params["clientInfo"],
			})
		default:
			resp, _ = NewResponse(msg.ID, msg.Params)
		}

		data, _ := Encode(resp)
		writer.Write(data)
		writer.Flush()
	}
}

func decodeResult(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("result is not an object: %v (%s)", err, raw)
	}
	return out
}
