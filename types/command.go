package types

import "time"

// Origin identifies who enqueued a Command, for logging and for
// halt-on-error policy (only streamed-file origin halts on error by
// default; user and internal-realtime commands never block the queue).
type Origin string

const (
	OriginUser           Origin = "user"
	OriginStreamedFile   Origin = "streamed_file"
	OriginInternalRT     Origin = "internal_realtime"
)

// Status is a Command's lifecycle state. Transitions are strictly
// monotonic: Queued -> Sent -> (Acked -> Done) | Failed. Only the Streamer
// moves Queued->Sent; only the Dispatcher moves Sent->Acked/Failed and
// Acked->Done.
type Status int

const (
	Queued Status = iota
	Sent
	Acked
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Sent:
		return "sent"
	case Acked:
		return "acked"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Command is a single line of G-code (or an internal directive) enqueued
// by the Facade. Payload never carries a trailing newline; the Streamer
// appends it and counts it toward flow control.
type Command struct {
	ID      uint64
	Origin  Origin
	Payload string

	// Len is len(Payload)+1 (the newline the Streamer will append), fixed
	// at enqueue time so flow-control math never re-measures the string.
	Len int

	Status Status
	// Code is set when Status == Failed.
	Code string
	// Response is the final classified record text associated with this
	// command's ack/error, if any.
	Response string

	EnqueuedAt time.Time
	SentAt     time.Time
	CompleteAt time.Time

	// Done is closed exactly once, when Status reaches a terminal value
	// (Done or Failed). Callers awaiting completion select on it.
	done chan struct{}
}

// NewCommand builds a Command in the Queued state. newline accounts for
// the '\n' the Streamer appends on the wire but never stores in Payload.
func NewCommand(id uint64, origin Origin, payload string) *Command {
	return &Command{
		ID:         id,
		Origin:     origin,
		Payload:    payload,
		Len:        len(payload) + 1,
		Status:     Queued,
		EnqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Wait returns a channel closed once the command reaches a terminal
// status (Done or Failed). Safe to select on from any goroutine.
func (c *Command) Wait() <-chan struct{} { return c.done }

// Terminal reports whether Status is a terminal value.
func (c *Command) Terminal() bool { return c.Status == Done || c.Status == Failed }

// complete transitions the command to a terminal status and releases any
// waiter. Called only by the Dispatcher.
func (c *Command) complete(status Status, code, response string) {
	c.Status = status
	c.Code = code
	c.Response = response
	c.CompleteAt = time.Now()
	close(c.done)
}

// MarkSent transitions Queued -> Sent. Called only by the Streamer.
func (c *Command) MarkSent() {
	c.Status = Sent
	c.SentAt = time.Now()
}

// MarkAcked transitions Sent -> Acked -> Done. Called only by the
// Dispatcher on a matched Ack.
func (c *Command) MarkAcked() { c.complete(Done, "", "") }

// MarkFailed transitions Sent -> Failed with the given code. Called only
// by the Dispatcher (matched Err, Alarm drain, Timeout, Cancelled,
// Disconnected).
func (c *Command) MarkFailed(code, response string) { c.complete(Failed, code, response) }
