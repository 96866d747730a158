package transport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// Mock is an in-memory Transport pair for tests: writes to the session
// land in Outbound (readable by test code via TakeOutbound), and bytes
// queued via Feed become readable by the session. The same texture as
// the teacher's channel-driven test harnesses, adapted from an
// io.ReadWriter pair to the full Transport interface.
type Mock struct {
	mu     sync.Mutex
	open   bool
	closed bool

	out bytes.Buffer // bytes the session under test has written
	in  bytes.Buffer // bytes queued for the session under test to read

	readTimeout time.Duration
	notify      chan struct{} // signaled whenever `in` gains data
}

// NewMock returns an unopened Mock transport.
func NewMock() *Mock {
	return &Mock{notify: make(chan struct{}, 1)}
}

func (m *Mock) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.open = true
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.closed = true
	return nil
}

func (m *Mock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, errNotOpen
	}
	return m.out.Write(b)
}

func (m *Mock) Read(buf []byte) (int, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return 0, errNotOpen
	}
	if m.in.Len() > 0 {
		n, err := m.in.Read(buf)
		m.mu.Unlock()
		return n, err
	}
	m.mu.Unlock()

	select {
	case <-m.notify:
	case <-time.After(m.readTimeoutOrDefault()):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, errNotOpen
	}
	if m.in.Len() == 0 {
		return 0, errTimeout
	}
	return m.in.Read(buf)
}

func (m *Mock) readTimeoutOrDefault() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readTimeout <= 0 {
		return defaultReadTimeout
	}
	return m.readTimeout
}

func (m *Mock) SetReadTimeout(d time.Duration) {
	m.mu.Lock()
	m.readTimeout = d
	m.mu.Unlock()
}

func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Mock) String() string { return "mock" }

// Feed queues bytes for the session under test to read, and wakes any
// pending Read.
func (m *Mock) Feed(b []byte) {
	m.mu.Lock()
	m.in.Write(b)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// FeedLine is a convenience for Feed(line + "\n").
func (m *Mock) FeedLine(line string) { m.Feed([]byte(line + "\n")) }

// TakeOutbound drains and returns everything written so far.
func (m *Mock) TakeOutbound() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := append([]byte(nil), m.out.Bytes()...)
	m.out.Reset()
	return b
}
