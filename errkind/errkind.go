// Package errkind classifies the gateway's errors into the small fixed
// vocabulary that callers can match against with errors.Is/errors.As,
// instead of string-matching underlying errors.
//
// The taxonomy mirrors transport/socks5's ReplyCode: a small typed enum
// carried inside a wrapping error, not a sprawling per-protocol set.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one bucket of the gateway's error taxonomy.
type Kind int

const (
	// ErrConfigInvalid marks a malformed or self-contradictory config; fatal
	// at startup, reported by -T without starting the runtime.
	ErrConfigInvalid Kind = iota
	// ErrDNSFailure marks a DNS resolution failure while classifying or
	// connecting a session.
	ErrDNSFailure
	// ErrDialFailure marks a failure to establish the outbound connection.
	ErrDialFailure
	// ErrHandshakeFailure marks a failure during a protocol handshake
	// (TLS, SOCKS5 negotiation, Trojan header, etc).
	ErrHandshakeFailure
	// ErrProtocolError marks malformed data from a peer after a handshake
	// has already succeeded.
	ErrProtocolError
	// ErrResourceExhausted marks a local resource limit (NAT table full,
	// too many concurrent sessions, etc).
	ErrResourceExhausted
	// ErrCancelled marks a session torn down by shutdown or context
	// cancellation. Never logged as a failure.
	ErrCancelled
)

func (k Kind) String() string {
	switch k {
	case ErrConfigInvalid:
		return "config-invalid"
	case ErrDNSFailure:
		return "dns-failure"
	case ErrDialFailure:
		return "dial-failure"
	case ErrHandshakeFailure:
		return "handshake-failure"
	case ErrProtocolError:
		return "protocol-error"
	case ErrResourceExhausted:
		return "resource-exhausted"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind, the way transport/socks5
// wraps a ReplyCode and transport/tls wraps handshake failures with %w.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind and operation label. Returns nil if
// err is nil, so it is safe to use as `return errkind.New(...)`.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of reports the Kind of err, defaulting to ErrProtocolError if err was
// not produced by this package.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrProtocolError
}

// IsCancelled reports whether err represents a cancellation rather than a
// genuine failure, matching spec's rule that cancellations are never
// reported as errors.
func IsCancelled(err error) bool {
	return Of(err) == ErrCancelled
}
