// Package relayerr implements the error taxonomy used throughout the
// engine: errors are distinguished by Kind, not by Go type, so callers
// branch with errors.Is against the sentinel Kind values below rather
// than type-switching on concrete error structs.
package relayerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error for propagation-policy decisions: which
// errors degrade gracefully, which retry, which surface to the model as
// a ToolError string, and which fail the session outright.
type Kind string

const (
	Network          Kind = "network"
	RateLimited      Kind = "rate_limited"
	ProviderError    Kind = "provider_error"
	ProtocolError    Kind = "protocol_error"
	StoreUnavailable Kind = "store_unavailable"
	StoreConflict    Kind = "store_conflict"
	NotFound         Kind = "not_found"
	ValidationError  Kind = "validation_error"
	ToolError        Kind = "tool_error"
	Internal         Kind = "internal"
)

// Retryable reports whether the Router's retry policy should retry a
// call that failed with this kind (never on 4xx other than 429).
func (k Kind) Retryable() bool {
	switch k {
	case Network, RateLimited:
		return true
	default:
		return false
	}
}

// Error is the single tagged error type used across the engine.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Status carries the HTTP status code for ProviderError, when known.
	Status int
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Message != "" {
		b.WriteByte(' ')
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteByte(' ')
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, relayerr.Network) etc. by matching on Kind
// when the target is itself a *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Cause: cause, Message: message}
}

// WithStatus sets the HTTP status and returns the receiver for chaining.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// sentinel is a bare-kind marker used only as an errors.Is target.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

// Sentinels for errors.Is(err, relayerr.IsNetwork) style checks at call
// sites that don't want to construct their own marker.
var (
	IsNetwork          = sentinel(Network)
	IsRateLimited      = sentinel(RateLimited)
	IsProviderError    = sentinel(ProviderError)
	IsProtocolError    = sentinel(ProtocolError)
	IsStoreUnavailable = sentinel(StoreUnavailable)
	IsStoreConflict    = sentinel(StoreConflict)
	IsNotFound         = sentinel(NotFound)
	IsValidationError  = sentinel(ValidationError)
	IsInternal         = sentinel(Internal)
)

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// AsToolErrorString renders err as the "[ToolError] ..." string the loop
// forwards to the model as a tool result — it must never propagate as a
// Go error across the loop boundary.
func AsToolErrorString(toolName string, err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if toolName != "" {
		return fmt.Sprintf("[ToolError] %s: %s", toolName, msg)
	}
	return fmt.Sprintf("[ToolError] %s", msg)
}
