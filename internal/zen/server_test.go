package zen

import (
	"bufio"
	"net"
	"testing"

	"miszen/internal/protocol"
)

// silentZenServer completes the initialize handshake and never answers
// anything afterwards.
func silentZenServer(t *testing.T) (string, int) {
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
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadBytes('\n')
					if err != nil {
						return
					}
					msg, err := protocol.Decode(line)
					if err != nil || msg.Method != protocol.MethodInitialize {
						continue
					}
					resp, _ := protocol.NewResponse(msg.ID, map[string]any{"serverInfo": map[string]any{"name": "silent"}})
					data, _ := protocol.Encode(resp)
					conn.Write(data)
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}
