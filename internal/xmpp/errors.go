package xmpp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport layer. All of them are fatal for the
// current connection; the engine reacts by tearing the session down and
// reconnecting with backoff.
var (
	// ErrKeepaliveLost means no inbound token arrived within the read
	// timeout window.
	ErrKeepaliveLost = errors.New("xmpp: keepalive lost")

	// ErrStreamClosed means the peer closed the XML stream cleanly.
	ErrStreamClosed = errors.New("xmpp: stream closed by peer")

	// ErrTLSRequired means the server requires STARTTLS but the
	// upgrade is unavailable or was refused.
	ErrTLSRequired = errors.New("xmpp: server requires STARTTLS")
)

// StreamError is a <stream:error> received from the server. Condition is
// one of the RFC 6120 defined condition element names
// (e.g. "conflict", "system-shutdown", "not-authorized").
type StreamError struct {
	Condition string
	Text      string
}

func (e *StreamError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("xmpp: stream error: %s (%s)", e.Condition, e.Text)
	}
	return "xmpp: stream error: " + e.Condition
}

// Retryable reports whether reconnecting makes sense after this stream
// error. A conflict means another client bound our resource; reconnecting
// would only produce a ping-pong between the two sessions.
func (e *StreamError) Retryable() bool {
	return e.Condition != "conflict"
}

// AuthError is a fatal authentication failure: SASL rejection, component
// handshake mismatch, or resource bind failure. Credentials are at fault,
// so the error is not retryable and must surface to the operator.
type AuthError struct {
	Stage  string // "sasl", "handshake", "bind"
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("xmpp: %s failed: %s", e.Stage, e.Detail)
}

// RoomJoinError means a MUC join kept bouncing with <conflict/> past the
// retry bound. Every rejoin nick collided, so the room configuration
// needs operator attention; reconnecting would replay the same joins.
type RoomJoinError struct {
	Room     string
	Attempts int
}

func (e *RoomJoinError) Error() string {
	return fmt.Sprintf("xmpp: cannot join room %s: nick conflict after %d attempts", e.Room, e.Attempts)
}

// IsAuthError reports whether err (or anything it wraps) is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable classifies an error for the reconnect loop. Authentication
// failures, resource conflicts, and exhausted room joins are permanent;
// everything else (I/O, TLS, parse, keepalive) is transient.
func IsRetryable(err error) bool {
	if IsAuthError(err) {
		return false
	}
	var re *RoomJoinError
	if errors.As(err, &re) {
		return false
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
