// Package errs provides structured error types shared across the connector.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category in the connector taxonomy.
type Code string

const (
	// CodeNetwork indicates a transport-level failure (connect, send, receive).
	CodeNetwork Code = "network"
	// CodeTimeSync indicates the exchange rejected our clock (nonce/timestamp skew).
	CodeTimeSync Code = "time_sync"
	// CodeExchange indicates a non-OK business response from the exchange.
	CodeExchange Code = "exchange_error"
	// CodeNotFound indicates the referenced resource (usually an order) does not exist.
	CodeNotFound Code = "not_found"
	// CodeStale indicates an update that is obsolete and must be dropped.
	CodeStale Code = "stale_update"
	// CodeInvalid indicates a caller contract violation.
	CodeInvalid Code = "invalid_request"
	// CodeConfig indicates a construction-time configuration error.
	CodeConfig Code = "config"
)

// E captures structured error information produced across the connector stack.
type E struct {
	Scope   string
	Code    Code
	HTTP    int
	RetCode int
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given scope and code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{Scope: strings.TrimSpace(scope), Code: code}
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

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRetCode captures the exchange business response code.
func WithRetCode(code int) Option {
	return func(e *E) {
		e.RetCode = code
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

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.RetCode != 0 {
		parts = append(parts, "ret_code="+FormatRetCode(e.RetCode))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is matches errors by code so callers can use errors.Is with sentinel envelopes.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if t.RetCode != 0 && t.RetCode != e.RetCode {
		return false
	}
	return true
}

// HasCode reports whether err carries the given connector error code.
func HasCode(err error, code Code) bool {
	e, ok := err.(*E)
	for !ok && err != nil {
		type unwrapper interface{ Unwrap() error }
		u, isWrapped := err.(unwrapper)
		if !isWrapped {
			break
		}
		err = u.Unwrap()
		e, ok = err.(*E)
	}
	return ok && e != nil && e.Code == code
}

// RetCodeOf extracts the exchange business code from err, or zero when absent.
func RetCodeOf(err error) int {
	e, ok := err.(*E)
	for !ok && err != nil {
		type unwrapper interface{ Unwrap() error }
		u, isWrapped := err.(unwrapper)
		if !isWrapped {
			break
		}
		err = u.Unwrap()
		e, ok = err.(*E)
	}
	if !ok || e == nil {
		return 0
	}
	return e.RetCode
}

// FormatRetCode renders an exchange response code the way operator logs expect it.
func FormatRetCode(code int) string {
	return "ret_code <" + strconv.Itoa(code) + ">"
}
