// Package errs defines the error taxonomy shared by the pilot core.
//
// Every error produced by the core carries a stable Kind, a human-readable
// message, and a context map of non-sensitive fields (selector, timeout,
// attempt counts). Transport internals stay in the wrapped cause and are
// never copied into the context surfaced to callers.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the class of a core error. Kinds are stable strings so
// callers can branch on them without importing concrete error types.
type Kind string

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = "validation"

	// KindSecurity marks input rejected as unsafe. Never retried.
	KindSecurity Kind = "security"

	// KindSession marks a transport failure on an established or closed
	// session. Retryable by the caller.
	KindSession Kind = "session"

	// KindConnectTimeout marks a connect attempt that exceeded its deadline.
	KindConnectTimeout Kind = "connect_timeout"

	// KindDiscoveryExhausted marks a discovery poll that ran out of attempts.
	KindDiscoveryExhausted Kind = "discovery_exhausted"

	// KindInvalidCacheValue marks a programmer error: a non-positive or
	// missing node identifier handed to the cache.
	KindInvalidCacheValue Kind = "invalid_cache_value"

	// KindMaxRetries marks retry exhaustion. Wraps the last underlying error.
	KindMaxRetries Kind = "max_retries_exceeded"

	// KindCircuitOpen marks a fast-fail from an open circuit breaker. The
	// underlying operation was not invoked.
	KindCircuitOpen Kind = "circuit_open"
)

// Error is the concrete error type for the pilot core.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface. The context is rendered in sorted
// key order so messages are stable.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}

	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind. This lets
// errors.Is compare against a sentinel like &Error{Kind: KindSession}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context, cause: cause}
}

// Validation creates a validation error.
func Validation(message string, context map[string]any) *Error {
	return New(KindValidation, message, context)
}

// Security creates a security error.
func Security(message string, context map[string]any) *Error {
	return New(KindSecurity, message, context)
}

// Session creates a session transport error.
func Session(message string, cause error, context map[string]any) *Error {
	return Wrap(KindSession, message, cause, context)
}

// ConnectTimeout creates a connect-timeout error.
func ConnectTimeout(message string, context map[string]any) *Error {
	return New(KindConnectTimeout, message, context)
}

// DiscoveryExhausted creates a discovery-exhausted error.
func DiscoveryExhausted(message string, context map[string]any) *Error {
	return New(KindDiscoveryExhausted, message, context)
}

// InvalidCacheValue creates an invalid-cache-value error.
func InvalidCacheValue(message string, context map[string]any) *Error {
	return New(KindInvalidCacheValue, message, context)
}

// MaxRetries creates a retry-exhaustion error wrapping the last failure.
func MaxRetries(attempts int, cause error) *Error {
	return Wrap(KindMaxRetries, "max retries exceeded", cause, map[string]any{
		"attempts": attempts,
	})
}

// CircuitOpen creates a fast-fail error for an open breaker.
func CircuitOpen(name string) *Error {
	return New(KindCircuitOpen, "circuit breaker is open", map[string]any{
		"breaker": name,
	})
}

// KindOf walks the error chain and returns the kind of the first *Error
// found, or the empty kind when the chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Kind("")
}

// IsKind reports whether the error chain carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Retryable reports whether an error is worth retrying. Validation and
// security failures are contract violations and never become valid by
// waiting; a circuit-open fast-fail is handled by the breaker's own recovery
// timer, and an invalid cache value is a programmer error.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindSecurity, KindInvalidCacheValue, KindCircuitOpen:
		return false
	default:
		return true
	}
}
