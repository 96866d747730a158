// Package transport carries opaque bytes between the Session and a
// controller over serial or TCP. It performs no framing and no retry;
// supervision (open, backoff, reconnect) lives in session.Session.
package transport

import (
	"context"
	"time"
)

// Transport is an opaque bidirectional byte stream (spec.md §4.1).
// Reads must be boundable by a short timeout (ReadTimeout) so the
// Dispatcher's read loop can be cancelled promptly rather than blocking
// forever on an idle line.
type Transport interface {
	// Open establishes the connection. Open must be idempotent to call
	// again after Close.
	Open(ctx context.Context) error
	Close() error
	// Write returns the number of bytes written and any error. Partial
	// writes on a terminal error are possible; callers treat any error
	// from Write as terminal.
	Write(b []byte) (int, error)
	// Read blocks for at most ReadTimeout; returns (0, errTimeout)-shaped
	// via net.Error.Timeout()/os.ErrDeadlineExceeded semantics on a
	// read that simply had nothing to offer, which callers treat as
	// transient, not terminal.
	Read(buf []byte) (int, error)
	SetReadTimeout(d time.Duration)
	IsOpen() bool
	String() string
}

// Factory builds a Transport from a types.TransportConfig.Kind-specific
// configuration, the same shape as the teacher's pluggable dial registry.
type Factory func(cfg Config) (Transport, error)

// Config is the transport-kind-agnostic dial configuration; individual
// factories read only the fields relevant to their Kind.
type Config struct {
	Kind    string
	Port    string
	Address string
	Baud    int

	// ReadTimeout bounds each Read call so the Dispatcher's loop remains
	// cancellable. Each factory applies its own default if zero.
	ReadTimeout time.Duration
}

// IsTimeout reports whether err represents a transient "nothing to read
// yet" condition rather than a terminal transport failure, per spec.md
// §4.1's transient/terminal distinction. It reports true for any error
// implementing the standard net.Error Timeout() contract, which
// net.Conn's read deadline and the Mock's read timeout both satisfy;
// io.EOF is not a timeout. A serial read that hits its timeout returns
// (0, nil) instead and never reaches this check.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
