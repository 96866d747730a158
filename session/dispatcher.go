package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/errcode"
	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/framer"
	"github.com/thawkins/gcodekit4-sub000/transport"
	"github.com/thawkins/gcodekit4-sub000/types"
)

// dispatcherMetrics is the narrow observation surface the Dispatcher
// drives; metrics.Registry implements it alongside streamerMetrics.
type dispatcherMetrics interface {
	streamerMetrics
	IncAcks()
	IncErrors()
	IncAlarms()
	IncSpuriousAcks()
	ObserveCommandLatency(d time.Duration)
}

// dispatcher is the single reader (spec.md §4.4). It owns the Transport's
// read handle, the In-Flight Window, and the Controller State Machine; it
// is the only task that ever calls Command.MarkAcked/MarkFailed and the
// only task that ever mutates pending_chars downward.
type dispatcher struct {
	tr      transport.Transport
	fr      framer.Framer
	adapter firmware.Adapter

	inflight *inflight
	q        *queue
	state    *stateHolder
	str      *streamer
	wd       *watchdog
	overrides *overrideManager // nil until connect assigns one; optional

	conn *bus.Connection

	sentCh     chan *types.Command
	writeErrCh chan writeFailure
	timeoutCh  chan uint64
	done       <-chan struct{}

	haltOnError bool

	spuriousAcks atomic.Int64

	metrics dispatcherMetrics

	// collapse is invoked exactly once, from whichever goroutine first
	// detects a terminal condition (read error or reported write error),
	// to hand control back to the Session's reconnect supervisor
	// (bridge.go's runLink/backoff shape).
	collapse func(err error)
}

func newDispatcher(
	tr transport.Transport,
	adapter firmware.Adapter,
	q *queue,
	state *stateHolder,
	str *streamer,
	sentCh chan *types.Command,
	writeErrCh chan writeFailure,
	timeoutCh chan uint64,
	done <-chan struct{},
	conn *bus.Connection,
	haltOnError bool,
	m dispatcherMetrics,
	collapse func(err error),
) *dispatcher {
	return &dispatcher{
		tr:          tr,
		adapter:     adapter,
		inflight:    newInflight(),
		q:           q,
		state:       state,
		str:         str,
		conn:        conn,
		sentCh:      sentCh,
		writeErrCh:  writeErrCh,
		timeoutCh:   timeoutCh,
		done:        done,
		haltOnError: haltOnError,
		metrics:     m,
		collapse:    collapse,
	}
}

// SetOverrides wires the Override Manager's OnStatus resync; called once
// at connect time after the manager is constructed from the same adapter.
func (d *dispatcher) SetOverrides(m *overrideManager) { d.overrides = m }

// SetWatchdog wires the per-command deadline scanner; called once at
// connect time. Left nil-safe so dispatcher tests can omit it.
func (d *dispatcher) SetWatchdog(w *watchdog) { d.wd = w }

func (d *dispatcher) armWatchdog(cmd *types.Command) {
	if d.wd != nil {
		d.wd.Schedule(cmd.ID)
	}
}

func (d *dispatcher) disarmWatchdog(id uint64) {
	if d.wd != nil {
		d.wd.Cancel(id)
	}
}

// Run is the Dispatcher's loop. It returns when done fires or a terminal
// transport error collapses the session.
func (d *dispatcher) Run() {
	buf := make([]byte, 1024)
	for {
		select {
		case <-d.done:
			// A clean cancellation (explicit disconnect or context cancel,
			// not a read/write error or timeout): spec.md §5 "Cancellation"
			// still requires every Queued/Sent command to terminate, so
			// failAll runs here exactly as it does on the error paths below,
			// just without a collapse() call since there's no error to report.
			d.failAll(errcode.Cancelled, "session disconnected")
			d.state.Transition(types.Disconnected, 0)
			return
		case cmd := <-d.sentCh:
			d.onSent(cmd)
			continue
		case wf := <-d.writeErrCh:
			d.onWriteFailure(wf)
			return
		case id := <-d.timeoutCh:
			d.onTimeout(id)
			if d.state.Snapshot().Controller == types.Disconnected {
				return
			}
			continue
		default:
		}

		n, err := d.tr.Read(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			d.onReadError(err)
			return
		}
		if n == 0 {
			continue
		}
		for _, line := range d.fr.Feed(buf[:n]) {
			d.onLine(line)
		}
	}
}

// onSent records a Streamer "I just sent this" report: appends to the
// In-Flight Window (spec.md §5). pending_chars was already incremented by
// the Streamer itself, synchronously with the write (session/streamer.go's
// sendHeld) — this message only carries the In-Flight bookkeeping, which
// can tolerate the Dispatcher's lag since nothing downstream of it reads
// In-Flight before the Dispatcher does.
func (d *dispatcher) onSent(cmd *types.Command) {
	d.inflight.PushBack(cmd)
	d.armWatchdog(cmd)
	d.publishCommandEvent(cmd)
	d.reportQueueDepth()
}

// onTimeout fires when the Watchdog's deadline for a command elapses
// before an Ack/Err/drain cancelled it. A command timeout means the
// controller's tracked state has diverged from its real state (spec.md
// §9), so the whole session collapses, not just the one command.
func (d *dispatcher) onTimeout(id uint64) {
	cmd := d.inflight.RemoveByID(id)
	if cmd == nil {
		return // already completed before the deadline landed
	}
	d.str.credit.pendingChars.Add(-int64(cmd.Len))
	cmd.MarkFailed(string(errcode.Timeout), "no response within command.timeout_ms")
	d.publishCommandEvent(cmd)
	d.metrics.IncErrors()
	d.failAll(errcode.Disconnected, "session collapsed after command timeout")
	d.state.Transition(types.Disconnected, 0)
	d.collapse(fmt.Errorf("command %d: %w", id, errcode.Timeout))
}

func (d *dispatcher) onReadError(err error) {
	d.failAll(errcode.IOTerminal, err.Error())
	d.state.Transition(types.Disconnected, 0)
	d.collapse(err)
}

func (d *dispatcher) onWriteFailure(wf writeFailure) {
	if wf.cmd != nil {
		if front := d.inflight.PopFront(); front != nil && front != wf.cmd {
			// A write failure always happens to the command the Streamer
			// is currently holding, which has not yet been appended to
			// In-Flight (onSent runs only after a successful write), so
			// the front of In-Flight, if any, is unrelated and must be
			// put back rather than silently dropped.
			d.inflight.l.PushFront(front)
		}
		wf.cmd.MarkFailed(string(errcode.IOTerminal), wf.err.Error())
		d.publishCommandEvent(wf.cmd)
	}
	d.failAll(errcode.IOTerminal, wf.err.Error())
	d.state.Transition(types.Disconnected, 0)
	d.collapse(wf.err)
}

func (d *dispatcher) onLine(line string) {
	rec := d.adapter.Classify(line)

	switch rec.Kind {
	case types.RecAck:
		d.onAck(rec)
	case types.RecErr:
		d.onErr(rec)
	case types.RecStatus:
		d.onStatus(rec)
	case types.RecAlarm:
		d.onAlarm(rec)
	case types.RecWelcome:
		d.onWelcome(rec)
	case types.RecSetting, types.RecFeedback, types.RecUnknown:
		// Ignored: nothing to mutate here, and these lines are not logged.
	}

	if rec.HasQueueReport {
		d.str.SetQueueReport(rec.QueueReport)
	}
}

// onAck matches the oldest In-Flight command positionally (spec.md §4.4
// rule 1). An Ack with an empty In-Flight Window is spurious: counted,
// never crashes the session.
func (d *dispatcher) onAck(rec types.Record) {
	cmd := d.inflight.PopFront()
	if cmd == nil {
		d.spuriousAcks.Add(1)
		d.metrics.IncSpuriousAcks()
		return
	}
	d.str.credit.pendingChars.Add(-int64(cmd.Len))
	d.disarmWatchdog(cmd.ID)
	cmd.MarkAcked()
	d.publishCommandEvent(cmd)
	d.metrics.IncAcks()
	d.metrics.ObserveCommandLatency(cmd.CompleteAt.Sub(cmd.SentAt))
	d.str.wakeCredit()
	d.reportQueueDepth()
}

func (d *dispatcher) onErr(rec types.Record) {
	cmd := d.inflight.PopFront()
	if cmd == nil {
		d.spuriousAcks.Add(1)
		d.metrics.IncSpuriousAcks()
		return
	}
	d.str.credit.pendingChars.Add(-int64(cmd.Len))
	d.disarmWatchdog(cmd.ID)
	cmd.MarkFailed(string(errcode.ProtoError), fmt.Sprintf("error:%d", rec.ErrCode))
	d.publishCommandEvent(cmd)
	d.metrics.IncErrors()
	d.str.wakeCredit()
	d.reportQueueDepth()

	if d.haltOnError && cmd.Origin == types.OriginStreamedFile {
		// halt_on_error stops the remainder of the file rather than the
		// session: only queued, not in-flight, streamed-file commands are
		// cancelled (spec.md's halt-on-error queue policy).
		for _, c := range d.q.DrainAll(errcode.Cancelled, "halted after error") {
			if c.Origin == types.OriginStreamedFile {
				c.MarkFailed(string(errcode.Cancelled), "halted after error")
				d.publishCommandEvent(c)
			} else {
				// Not part of the halted file; re-deliver rather than drop.
				_ = d.q.TryEnqueue(c)
			}
		}
	}
}

func (d *dispatcher) onStatus(rec types.Record) {
	d.state.Apply(rec.Status)
	if d.overrides != nil && rec.Status.HasOverrides {
		d.overrides.OnStatus(rec.Status.Overrides)
	}
}

// onAlarm collapses in-flight and queued work (spec.md §4.4 rule 3): an
// ALARM leaves the controller unable to execute any motion command until
// explicitly unlocked, so every Sent/Queued command is void.
func (d *dispatcher) onAlarm(rec types.Record) {
	d.state.Transition(types.Alarm, rec.AlarmCode)
	d.failAll(errcode.Alarm, fmt.Sprintf("ALARM:%d", rec.AlarmCode))
	d.metrics.IncAlarms()
	d.conn.Publish(&bus.Message{
		Topic:   topicAlarm,
		Payload: types.AlarmEvent{Code: rec.AlarmCode, At: time.Now()},
	})
}

// onWelcome handles an unsolicited reset banner mid-session (spec.md §4.4
// rule 4): identical voiding of in-flight/queued work as an Alarm, but the
// resulting state is Idle, not Alarm.
func (d *dispatcher) onWelcome(rec types.Record) {
	d.state.Transition(types.Idle, 0)
	d.failAll(errcode.Cancelled, "controller reset")
	d.conn.Publish(&bus.Message{
		Topic:    topicWelcome,
		Payload:  types.WelcomeEvent{Descriptor: types.FirmwareDescriptor{Dialect: rec.Welcome.Dialect, Version: rec.Welcome.Version}, At: time.Now()},
		Retained: true,
	})
}

// failAll drains both the In-Flight Window and the pending Queue, marking
// every command Failed with code, and resets pending_chars to zero (the
// transport is about to be silent or gone, so no partial credit survives).
func (d *dispatcher) failAll(code errcode.Code, msg string) {
	for _, cmd := range d.inflight.DrainAll() {
		d.disarmWatchdog(cmd.ID)
		cmd.MarkFailed(string(code), msg)
		d.publishCommandEvent(cmd)
	}
	for _, cmd := range d.q.DrainAll(code, msg) {
		cmd.MarkFailed(string(code), msg)
		d.publishCommandEvent(cmd)
	}
	d.str.credit.pendingChars.Store(0)
	d.str.credit.qrActive.Store(false)
	d.reportQueueDepth()
}

func (d *dispatcher) publishCommandEvent(cmd *types.Command) {
	d.conn.Publish(&bus.Message{
		Topic: topicCommand,
		Payload: types.CommandEvent{
			ID: cmd.ID, Status: cmd.Status, Code: cmd.Code, At: time.Now(),
		},
	})
}

func (d *dispatcher) reportQueueDepth() {
	d.metrics.SetPendingChars(int(d.str.credit.pendingChars.Load()))
	d.metrics.SetInFlight(d.inflight.Len())
}
