// Package errcode defines the stable, comparable error codes carried across
// task boundaries (Dispatcher, Streamer, Facade, Bus) in the communication
// core. Codes are plain string newtypes so they can be compared, logged, and
// published on the event bus without allocation or string matching.
package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes, following the taxonomy in SPEC_FULL.md §7.
const (
	OK Code = "ok"

	// Transport
	NotOpen     Code = "not_open"
	IOTransient Code = "io_transient"
	IOTerminal  Code = "io_terminal"
	Timeout     Code = "timeout"

	// Protocol
	ProtoError       Code = "proto_error"
	Alarm            Code = "alarm"
	UnexpectedRecord Code = "unexpected_record"

	// Capability
	NotSupported      Code = "not_supported"
	UnknownCapability Code = "unknown_capability"

	// Flow
	QueueFull    Code = "queue_full"
	Cancelled    Code = "cancelled"
	Disconnected Code = "disconnected"

	Error Code = "error" // generic fallback
)

// E wraps a Code with an operation name, an optional message, and an
// optional cause so a failure keeps context while still comparing equal to
// its Code via Of.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	switch {
	case e.Msg != "":
		return e.Op + ": " + e.Msg
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	default:
		return e.Op + ": " + string(e.C)
	}
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E for a given operation and code.
func New(op string, c Code, msg string) *E {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap builds an *E around an existing error, tagging it with a code.
// Returns nil if err is nil.
func Wrap(op string, c Code, err error) *E {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error. nil maps to OK.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
