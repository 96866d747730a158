package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/transport"
	"github.com/thawkins/gcodekit4-sub000/types"

	_ "github.com/thawkins/gcodekit4-sub000/firmware/grbl"
)

// maxTrackingMetrics records the high-water mark of SetPendingChars, the
// one observation point that would have caught the pending_chars race:
// a value that ever exceeds rxCapacity means the Streamer oversubscribed
// the controller's real receive buffer.
type maxTrackingMetrics struct {
	maxPendingChars atomic.Int64
}

func (m *maxTrackingMetrics) SetPendingChars(n int) {
	for {
		cur := m.maxPendingChars.Load()
		if int64(n) <= cur || m.maxPendingChars.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}
func (m *maxTrackingMetrics) SetInFlight(int)                    {}
func (m *maxTrackingMetrics) IncAcks()                           {}
func (m *maxTrackingMetrics) IncErrors()                         {}
func (m *maxTrackingMetrics) IncAlarms()                         {}
func (m *maxTrackingMetrics) IncSpuriousAcks()                   {}
func (m *maxTrackingMetrics) ObserveCommandLatency(time.Duration) {}

// TestStreamerDispatcherNeverExceedsRxCapacity wires a real Streamer and
// Dispatcher together (not in isolation, the gap the maintainer's review
// flagged) and reproduces spec.md §8's S2: rxCapacity 128, twenty 20-byte
// commands, at most 6 Sent (120 bytes) outstanding at any moment, and
// pending_chars never observed above rxCapacity.
func TestStreamerDispatcherNeverExceedsRxCapacity(t *testing.T) {
	const rxCapacity = 128
	const numCmds = 20
	const cmdLen = 20 // len(payload)+1

	adapterPayload := func(i int) string {
		// Fixed-width digits keep every payload the same length before the
		// truncation below, so cmdLen (and therefore credit math) is exact
		// regardless of i: 19 chars + the Streamer's appended '\n' == cmdLen.
		return fmt.Sprintf("G1 X%05d Y%05d Z0", i, i)[:cmdLen-1]
	}

	b := bus.NewBus(64)
	conn := b.NewConnection("test")
	tr := transport.NewMock()
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("open mock: %v", err)
	}

	done := make(chan struct{})
	defer close(done)
	sentCh := make(chan *types.Command, numCmds)
	writeErrCh := make(chan writeFailure, 1)
	timeoutCh := make(chan uint64, numCmds)
	q := newQueue(numCmds)
	state := newStateHolder(conn)
	m := &maxTrackingMetrics{}

	adapter, ok := firmware.Lookup(types.DialectGRBL)
	if !ok {
		t.Fatal("grbl adapter not registered")
	}

	str := newStreamer(tr, q, rxCapacity, sentCh, writeErrCh, make(chan struct{}, 1), done, m)
	d := newDispatcher(tr, adapter, q, state, str, sentCh, writeErrCh, timeoutCh, done, conn, false, m, func(error) {})

	sub := conn.Subscribe(topicCommand)
	defer sub.Unsubscribe()

	var mu sync.Mutex
	sent := make(map[uint64]bool)
	maxConcurrentSent := 0
	allDone := make(chan struct{})
	var completed atomic.Int64

	go func() {
		for {
			select {
			case msg := <-sub.Channel():
				ev := msg.Payload.(types.CommandEvent)
				mu.Lock()
				switch ev.Status {
				case types.Sent:
					sent[ev.ID] = true
					if len(sent) > maxConcurrentSent {
						maxConcurrentSent = len(sent)
					}
				case types.Done, types.Failed:
					delete(sent, ev.ID)
					if completed.Add(1) == numCmds {
						close(allDone)
					}
				}
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	go str.Run()
	go d.Run()

	cmds := make([]*types.Command, numCmds)
	for i := range cmds {
		cmds[i] = types.NewCommand(uint64(i+1), types.OriginUser, adapterPayload(i))
		if err := q.TryEnqueue(cmds[i]); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	// Drain acks until every command completes, feeding "ok" slowly enough
	// that the Dispatcher's read loop has time to process each one; a tight
	// loop would just coalesce them into one Feed() call, which is also
	// fine, but spacing them out exercises more of the credit hand-off.
	go func() {
		for i := 0; i < numCmds; i++ {
			select {
			case <-allDone:
				return
			case <-done:
				return
			case <-time.After(5 * time.Millisecond):
				tr.FeedLine("ok")
			}
		}
	}()

	select {
	case <-allDone:
	case <-time.After(3 * time.Second):
		t.Fatal("not every command completed")
	}

	for _, c := range cmds {
		if c.Status != types.Done {
			t.Fatalf("command %d: Status = %v, want Done", c.ID, c.Status)
		}
	}

	mu.Lock()
	got := maxConcurrentSent
	mu.Unlock()
	if got > rxCapacity/cmdLen {
		t.Fatalf("maxConcurrentSent = %d, want <= %d (rxCapacity/cmdLen)", got, rxCapacity/cmdLen)
	}
	if max := m.maxPendingChars.Load(); max > rxCapacity {
		t.Fatalf("pending_chars peaked at %d, want <= rxCapacity %d", max, rxCapacity)
	}
}
