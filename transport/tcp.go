package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

func init() {
	Register("tcp", newTCPTransport)
}

// tcpTransport dials a bare TCP byte stream (e.g. an ESP32/network-attached
// controller). No third-party library improves on net.Conn for this; see
// DESIGN.md's standard-library-only justification.
type tcpTransport struct {
	addr string

	mu   sync.Mutex
	conn net.Conn

	readTimeout time.Duration
}

func newTCPTransport(cfg Config) (Transport, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("transport: tcp config requires an address")
	}
	rt := cfg.ReadTimeout
	if rt == 0 {
		rt = defaultReadTimeout
	}
	return &tcpTransport{addr: cfg.Address, readTimeout: rt}, nil
}

func (t *tcpTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("transport: dial tcp %s: %w", t.addr, err)
	}
	t.conn = c
	log.WithField("addr", t.addr).Info("tcp transport connected")
	return nil
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *tcpTransport) Write(b []byte) (int, error) {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return 0, errNotOpen
	}
	return c.Write(b)
}

func (t *tcpTransport) Read(buf []byte) (int, error) {
	t.mu.Lock()
	c := t.conn
	rt := t.readTimeout
	t.mu.Unlock()
	if c == nil {
		return 0, errNotOpen
	}
	if rt > 0 {
		_ = c.SetReadDeadline(time.Now().Add(rt))
	}
	// A deadline-exceeded error here satisfies net.Error.Timeout(); the
	// Dispatcher's read loop treats that as transient, not terminal.
	return c.Read(buf)
}

func (t *tcpTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

func (t *tcpTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *tcpTransport) String() string { return fmt.Sprintf("tcp(%s)", t.addr) }
