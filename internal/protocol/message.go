package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version is the jsonrpc marker carried by every frame.
const Version = "2.0"

// MaxFrameSize caps a single inbound line. Larger frames are dropped.
const MaxFrameSize = 1024 * 1024 // 1MB

// Message is one frame on the wire. A request has ID and Method, a
// notification has Method only, a response has ID and exactly one of
// Result or Error.
type Message struct {
	JSONRPC string
	ID      string // empty for notifications
	Method  string
	Params  map[string]any
	Result  json.RawMessage
	Error   *ErrorObject
}

// ErrorObject is the error member of a response frame.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// wireMessage keeps the id raw so both string and numeric ids are accepted.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(method string, params map[string]any) *Message {
	if params == nil {
		params = map[string]any{}
	}
	return &Message{
		JSONRPC: Version,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
}

// NewNotification builds a one-way message with no id.
func NewNotification(method string, params map[string]any) *Message {
	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// NewResponse builds a success response for id.
func NewResponse(id string, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id string, code int, message string, data any) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	}
}

func (m *Message) IsRequest() bool      { return m.Method != "" && m.ID != "" }
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == "" }
func (m *Message) IsResponse() bool     { return m.Method == "" && m.ID != "" }

// Encode serialises m into a single newline-terminated frame.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	if m.Result != nil && m.Error != nil {
		return nil, errors.New("response carries both result and error")
	}

	w := wireMessage{
		JSONRPC: m.JSONRPC,
		Method:  m.Method,
		Params:  m.Params,
		Result:  m.Result,
		Error:   m.Error,
	}
	if w.JSONRPC == "" {
		w.JSONRPC = Version
	}
	if m.ID != "" {
		id, err := json.Marshal(m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal id: %w", err)
		}
		w.ID = id
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one frame. Missing jsonrpc defaults to Version, a missing or
// null id leaves ID empty, numeric ids are kept as their decimal text.
func Decode(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errors.New("empty frame")
	}

	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return nil, err
	}

	m := &Message{
		JSONRPC: w.JSONRPC,
		ID:      id,
		Method:  w.Method,
		Params:  w.Params,
		Result:  w.Result,
		Error:   w.Error,
	}
	if m.JSONRPC == "" {
		m.JSONRPC = Version
	}
	return m, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid id: %s", string(raw))
	}
	return n.String(), nil
}
