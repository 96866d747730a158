package transport

import "errors"

// errNotOpen is returned by Read/Write before Open has succeeded.
var errNotOpen = errors.New("transport: not open")

// timeoutError implements net.Error so Dispatcher-side code can use the
// same Timeout() check against a mock Transport as it does against a
// real net.Conn or tarm/serial read that hit its deadline.
type timeoutError struct{}

func (timeoutError) Error() string   { return "transport: read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errTimeout error = timeoutError{}
