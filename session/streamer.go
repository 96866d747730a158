package session

import (
	"sync/atomic"

	"github.com/thawkins/gcodekit4-sub000/transport"
	"github.com/thawkins/gcodekit4-sub000/types"
)

// creditState is the shared flow-control counter (spec.md §3's
// pending_chars). pending_chars must move up atomically with the write
// that earns it (spec.md §4.5), so the Streamer adds to it directly in
// sendHeld rather than waiting on a round trip through the Dispatcher;
// the Dispatcher is the only task that ever subtracts from it (Ack, Err,
// Timeout, or a full drain on Alarm/Welcome/disconnect). Two tasks adding
// and subtracting the same atomic.Int64 never need a lock between them.
type creditState struct {
	pendingChars atomic.Int64
	rxCapacity   int64

	// qr carries the most recent TinyG/g2core queue-report value and
	// whether queue-report flow control is active for this session
	// (SPEC_FULL.md §9's resolved Open Question).
	qrActive atomic.Bool
	qr       atomic.Int64
}

const qrLowWaterMark = 4

func (c *creditState) hasCredit(cmdLen int) bool {
	if c.qrActive.Load() {
		return c.qr.Load() > qrLowWaterMark
	}
	return c.pendingChars.Load()+int64(cmdLen) <= c.rxCapacity
}

// streamer is the single writer (spec.md §4.5). It owns the Transport's
// write handle, the Queue's consumer end, and the bypass channel for
// real-time bytes; it never reads from Transport and never mutates
// Machine/Controller state directly.
type streamer struct {
	tr     transport.Transport
	q      *queue
	bypass chan byte

	credit *creditState
	wake   chan struct{} // edge-triggered: Dispatcher signals on every ack/err

	sentCh     chan *types.Command // Streamer -> Dispatcher: "I just sent this"
	writeErrCh chan writeFailure   // Streamer -> Dispatcher: "write failed, terminal"
	done       <-chan struct{}

	metrics streamerMetrics
}

// streamerMetrics is the narrow observation surface metrics.Registry
// implements; kept as an interface here so session has no import-time
// dependency on the metrics package (mirrors the teacher's habit of
// depending on behavior, not concrete packages, across service
// boundaries).
type streamerMetrics interface {
	SetPendingChars(n int)
	SetInFlight(n int)
}

func newStreamer(tr transport.Transport, q *queue, rxCapacity int, sentCh chan *types.Command, writeErrCh chan writeFailure, wake chan struct{}, done <-chan struct{}, m streamerMetrics) *streamer {
	s := &streamer{
		tr:         tr,
		q:          q,
		bypass:     make(chan byte, 16),
		credit:     &creditState{},
		wake:       wake,
		sentCh:     sentCh,
		writeErrCh: writeErrCh,
		done:       done,
		metrics:    m,
	}
	s.credit.rxCapacity = int64(rxCapacity)
	return s
}

// Bypass returns the channel real-time byte requests (Status Poller,
// Override Manager, Facade reset/feed-hold/cycle-start/jog-cancel) write to.
func (s *streamer) Bypass() chan<- byte { return s.bypass }

// SetQueueReport is called by the Dispatcher when a TinyG/g2core record
// carries a "qr" field, switching flow control from character-counting
// to queue-report-based (SPEC_FULL.md §9).
func (s *streamer) SetQueueReport(qr int) {
	s.credit.qrActive.Store(true)
	s.credit.qr.Store(int64(qr))
	s.wakeCredit()
}

func (s *streamer) wakeCredit() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the Streamer's loop (spec.md §4.5). It exits when done fires.
func (s *streamer) Run() {
	var held *types.Command
	for {
		if held == nil {
			select {
			case <-s.done:
				return
			case b := <-s.bypass:
				s.writeByte(b)
				continue
			case held = <-s.q.Chan():
			}
		}

		if !s.waitForCredit(held) {
			return // done fired while waiting
		}
		s.sendHeld(held)
		held = nil
	}
}

// waitForCredit blocks until held has credit to send, servicing bypass
// writes (which always take priority and never touch pending_chars) in
// the meantime. Returns false if done fired first.
func (s *streamer) waitForCredit(held *types.Command) bool {
	for !s.credit.hasCredit(held.Len) {
		select {
		case <-s.done:
			return false
		case b := <-s.bypass:
			s.writeByte(b)
		case <-s.wake:
		}
	}
	return true
}

func (s *streamer) writeByte(b byte) {
	if _, err := s.tr.Write([]byte{b}); err != nil {
		s.reportWriteErr(nil, err)
	}
}

// sendHeld writes held+'\n', marks it Sent, and reports the send to the
// Dispatcher so it alone records the In-Flight append (spec.md §4.5, §5).
// pending_chars itself is incremented right here, synchronously with the
// write, not via the sentCh report: sentCh is a buffered channel the
// Dispatcher only drains between Transport reads, so crediting the bytes
// there would let hasCredit keep reading stale (too-low) values across
// several back-to-back dequeues and oversubscribe the controller's real
// receive buffer past rx_capacity. Mutating pendingChars from the
// Streamer is safe despite the Dispatcher being its nominal owner: it's
// an atomic counter, the Streamer is the only writer that ever adds to
// it, and the Dispatcher only ever subtracts (on Ack/Err/Timeout/drain),
// so the two sides never race on the same direction of travel.
func (s *streamer) sendHeld(held *types.Command) {
	_, err := s.tr.Write([]byte(held.Payload + "\n"))
	if err != nil {
		s.reportWriteErr(held, err)
		return
	}
	s.credit.pendingChars.Add(int64(held.Len))
	held.MarkSent()
	select {
	case s.sentCh <- held:
	case <-s.done:
	}
}

func (s *streamer) reportWriteErr(held *types.Command, err error) {
	select {
	case s.writeErrCh <- writeFailure{cmd: held, err: err}:
	case <-s.done:
	}
}

// writeFailure is the Streamer -> Dispatcher report of a terminal write
// error. cmd is nil when the failure happened writing a bypass byte
// rather than a queued command.
type writeFailure struct {
	cmd *types.Command
	err error
}
