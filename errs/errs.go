// Package errs provides structured error types shared across the streamer.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a failure category within the streaming stack.
type Code string

const (
	// CodeNetwork indicates a transport-level failure (dial, read, write).
	CodeNetwork Code = "network"
	// CodeAuth indicates a rejected connect handshake or stale session token.
	CodeAuth Code = "auth"
	// CodeDecode indicates a malformed vendor frame.
	CodeDecode Code = "decode"
	// CodeStore indicates a ledger store failure.
	CodeStore Code = "store"
	// CodeNotConnected indicates a send attempted while the connection is down.
	CodeNotConnected Code = "not_connected"
	// CodeTimeout indicates a bounded wait elapsed.
	CodeTimeout Code = "timeout"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E captures structured error information produced across the stack.
type E struct {
	Op      string
	Code    Code
	Message string
	RawCode string
	RawMsg  string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and failure code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Message: "",
		RawCode: "",
		RawMsg:  "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRawCode captures the raw vendor error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw vendor error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target carries the same failure code, letting callers
// match with errors.Is against a bare envelope.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok {
		return false
	}
	return other.Code == e.Code && (other.Op == "" || other.Op == e.Op)
}

// NotConnected returns a standardized fast-fail error for sends while the
// connection is down.
func NotConnected(op string) *E {
	return New(op, CodeNotConnected, WithMessage("websocket not connected"))
}
