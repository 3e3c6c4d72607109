package wsproto

import (
	"errors"
	"fmt"
)

// ErrNeedMore is returned by Decode when buf does not yet contain a full
// frame. It is a sentinel, not a *Error, because it is an expected,
// recoverable condition rather than a taxonomy failure.
var ErrNeedMore = errors.New("wsproto: need more data")

// ErrorCode classifies a failure per the error taxonomy: protocol, socket,
// timeout, codec, state, or resource exhaustion. A connection's last error
// carries one of these so callers can branch on category without string
// matching.
type ErrorCode int

const (
	ErrCodeProtocol ErrorCode = iota
	ErrCodeSocket
	ErrCodeTimeout
	ErrCodeCodec
	ErrCodeState
	ErrCodeResource
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeSocket:
		return "socket"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeCodec:
		return "codec"
	case ErrCodeState:
		return "state"
	case ErrCodeResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is the error taxonomy carrier described in the error handling
// design: a code plus message, optionally wrapping a lower-level cause.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wsproto: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("wsproto: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error with no underlying cause.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError builds an Error wrapping err.
func WrapError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// AsError reports whether err is (or wraps) a *Error, returning it if so.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
