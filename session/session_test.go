package session

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/errcode"
	"github.com/thawkins/gcodekit4-sub000/transport"
	"github.com/thawkins/gcodekit4-sub000/types"

	_ "github.com/thawkins/gcodekit4-sub000/firmware/grbl"
)

var sessionTestKindSeq atomic.Int64

// newSessionHarness registers a fresh mock transport kind (a unique kind
// name per test avoids collisions in the shared transport.Register
// registry) and starts a Session against it, publishing a resolved Config
// as the Session's Run loop expects (spec.md §4.1's "reconfigured via the
// Bus, not a direct call").
func newSessionHarness(t *testing.T) (sess *Session, conn *bus.Connection, tr *transport.Mock, cancel context.CancelFunc) {
	t.Helper()
	tr = transport.NewMock()
	kind := fmt.Sprintf("mock-%d", sessionTestKindSeq.Add(1))
	transport.Register(kind, func(cfg transport.Config) (transport.Transport, error) { return tr, nil })

	b := bus.NewBus(8)
	conn = b.NewConnection("test")
	sess = NewSession(conn, nil)

	ctx, cancelFn := context.WithCancel(context.Background())
	go sess.Run(ctx)

	cfg := types.Defaults()
	cfg.Transport.Kind = kind
	cfg.Transport.Port = "/mock"
	cfg.Poll.IntervalMS = 2000 // keep the poller quiet during outbound assertions
	cfg.Timeout.CommandMS = 2000

	conn.Publish(&bus.Message{Topic: topicConfigRoot, Payload: cfg, Retained: true})
	return sess, conn, tr, cancelFn
}

// waitOpen polls until the mock transport has been dialed, so the test can
// feed the welcome banner the handshake is blocked reading for.
func waitOpen(t *testing.T, tr *transport.Mock) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr.IsOpen() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("transport never opened")
}

func waitIdle(t *testing.T, conn *bus.Connection) {
	t.Helper()
	sub := conn.Subscribe(topicState)
	defer sub.Unsubscribe()
	for {
		select {
		case msg := <-sub.Channel():
			ev, ok := msg.Payload.(types.StateTransitionEvent)
			if ok && ev.To == types.Idle {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("session never reached Idle")
		}
	}
}

func TestSessionHandshakesAndReachesIdle(t *testing.T) {
	_, conn, tr, cancel := newSessionHarness(t)
	defer cancel()

	waitOpen(t, tr)
	tr.FeedLine("Grbl 1.1h ['$' for help]")
	waitIdle(t, conn)
}

func TestSessionStreamsCommandRoundTrip(t *testing.T) {
	sess, conn, tr, cancel := newSessionHarness(t)
	defer cancel()

	waitOpen(t, tr)
	tr.FeedLine("Grbl 1.1h ['$' for help]")
	waitIdle(t, conn)

	cmd := types.NewCommand(sess.NextID(), types.OriginUser, "G1 X1")

	deadline := time.Now().Add(time.Second)
	var enqueued bool
	for time.Now().Before(deadline) {
		if err := sess.TryEnqueue(cmd); err == nil {
			enqueued = true
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !enqueued {
		t.Fatal("could not enqueue once Idle was observed")
	}

	var out []byte
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		out = tr.TakeOutbound()
		if len(out) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !strings.Contains(string(out), "G1 X1") {
		t.Fatalf("outbound = %q, want it to contain G1 X1", out)
	}

	tr.FeedLine("ok")

	select {
	case <-cmd.Wait():
		if cmd.Status != types.Done {
			t.Fatalf("Status = %v, want Done", cmd.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("command never completed")
	}
}

func TestSessionCollapsesToDisconnectedOnTransportFailure(t *testing.T) {
	_, conn, tr, cancel := newSessionHarness(t)
	defer cancel()

	waitOpen(t, tr)
	tr.FeedLine("Grbl 1.1h ['$' for help]")
	waitIdle(t, conn)

	sub := conn.Subscribe(topicState)
	defer sub.Unsubscribe()

	<-sub.Channel() // retained transition into Idle, delivered on subscribe

	_ = tr.Close() // simulates the controller dropping the line mid-session

	select {
	case msg := <-sub.Channel():
		ev := msg.Payload.(types.StateTransitionEvent)
		if ev.To != types.Disconnected {
			t.Fatalf("To = %v, want Disconnected", ev.To)
		}
	case <-time.After(time.Second):
		t.Fatal("session never collapsed to Disconnected")
	}
}

// A clean cancellation (disconnect, or the Session's context going away)
// must fail every Queued/Sent command with Cancelled rather than leaving
// it hanging on Wait() forever (spec.md §5's Cancellation rule, P2).
func TestSessionCancelFailsInFlightCommandWithCancelled(t *testing.T) {
	sess, conn, tr, cancel := newSessionHarness(t)

	waitOpen(t, tr)
	tr.FeedLine("Grbl 1.1h ['$' for help]")
	waitIdle(t, conn)

	cmd := types.NewCommand(sess.NextID(), types.OriginUser, "G1 X1")

	deadline := time.Now().Add(time.Second)
	var enqueued bool
	for time.Now().Before(deadline) {
		if err := sess.TryEnqueue(cmd); err == nil {
			enqueued = true
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !enqueued {
		t.Fatal("could not enqueue once Idle was observed")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(tr.TakeOutbound()) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel() // no error, no Ack: just the Session's context going away

	select {
	case <-cmd.Wait():
	case <-time.After(time.Second):
		t.Fatal("command never completed after cancel")
	}
	if cmd.Status != types.Failed || cmd.Code != string(errcode.Cancelled) {
		t.Fatalf("cmd = %+v, want Failed/Cancelled", cmd)
	}
}

func TestSessionSnapshotIsDisconnectedBeforeAnyConfig(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sess := NewSession(conn, nil)

	snap := sess.Snapshot()
	if snap.Controller != types.Disconnected {
		t.Fatalf("Controller = %v, want Disconnected", snap.Controller)
	}

	if _, err := sess.Bypass(); err != ErrNotConnected {
		t.Fatalf("Bypass err = %v, want ErrNotConnected", err)
	}
}
