package protocol

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes. The -32000 range is implementation defined.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeConnectionClosed = -32000
	CodeRequestTimeout   = -32004
)

var (
	ErrRequestTimeout   = errors.New("request timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotOpen          = errors.New("connection is not open")
)

// Error is a protocol level failure returned to the waiting caller. Remote
// error objects and local timeout/close conditions share this type.
type Error struct {
	Code    int
	Message string
	Data    any

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// Unwrap exposes ErrRequestTimeout or ErrConnectionClosed for local errors.
func (e *Error) Unwrap() error {
	return e.cause
}

func remoteError(obj *ErrorObject) *Error {
	msg := obj.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return &Error{Code: obj.Code, Message: msg, Data: obj.Data}
}

func timeoutError(method string) *Error {
	return &Error{
		Code:    CodeRequestTimeout,
		Message: fmt.Sprintf("request timeout for method: %s", method),
		cause:   ErrRequestTimeout,
	}
}

func closedError() *Error {
	return &Error{
		Code:    CodeConnectionClosed,
		Message: "connection closed",
		cause:   ErrConnectionClosed,
	}
}
