// Package facade is the Public Controller Facade (spec.md §4.11): the
// narrow, concurrency-safe API higher layers (the CLI, a future UI) call.
// Every operation either posts onto session.Session's Queue or writes a
// single real-time byte via its Bypass channel; none of them touch a
// Transport, the In-Flight Window, or Machine State directly.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/errcode"
	"github.com/thawkins/gcodekit4-sub000/session"
	"github.com/thawkins/gcodekit4-sub000/types"
)

// Controller is the Facade. One Controller wraps one session.Session.
type Controller struct {
	sess *session.Session
	conn *bus.Connection
}

func New(sess *session.Session, conn *bus.Connection) *Controller {
	return &Controller{sess: sess, conn: conn}
}

// Snapshot returns the current Machine State (spec.md §4.7).
func (c *Controller) Snapshot() types.MachineState { return c.sess.Snapshot() }

// Subscribe returns a Bus subscription to state transitions, command
// lifecycle events, alarms, welcome, or status — callers pick the topic
// via one of the Topic* helpers below (spec.md §4.11 "subscribe(observer)").
func (c *Controller) Subscribe(topic bus.Topic) *bus.Subscription {
	return c.conn.Subscribe(topic)
}

func (c *Controller) send(origin types.Origin, payload string, blocking bool, done <-chan struct{}) (*types.Command, error) {
	cmd := types.NewCommand(c.sess.NextID(), origin, payload)
	var err error
	if blocking {
		err = c.sess.Enqueue(cmd, done)
	} else {
		err = c.sess.TryEnqueue(cmd)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// Send enqueues one command line (no trailing newline) and returns its
// Command, whose Wait() channel closes once it reaches a terminal status
// (spec.md §4.11 "send(line)"). Fails fast with QueueFull rather than
// blocking: a single interactively-typed line should never stall behind
// a full streamed-file queue.
func (c *Controller) Send(line string) (*types.Command, error) {
	return c.send(types.OriginUser, line, false, nil)
}

// Stream enqueues every line from lines in order, blocking as needed for
// queue space, and returns the Commands in enqueue order (spec.md §4.11
// "stream(iter)"). Honors halt-on-error at the session's Dispatcher, not
// here: Stream's job is only to get every line queued in order.
func (c *Controller) Stream(ctx context.Context, lines []string) ([]*types.Command, error) {
	cmds := make([]*types.Command, 0, len(lines))
	for _, line := range lines {
		cmd, err := c.send(types.OriginStreamedFile, line, true, ctx.Done())
		if err != nil {
			return cmds, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Jog queues a relative jog move on axis (e.g. "X", "Y") by dist at feed,
// using the active adapter's Jog formatter (spec.md §4.11 "jog").
func (c *Controller) Jog(axis string, dist, feed float64) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	if f.Jog == nil {
		return nil, errcode.New("facade.jog", errcode.NotSupported, "adapter has no jog formatter")
	}
	return c.send(types.OriginUser, f.Jog(axis, dist, feed), false, nil)
}

// JogCancel sends the real-time jog-cancel byte and waits, bounded by
// timeout, for Controller State to leave Jog before returning — the
// jog-cancel race fix (SPEC_FULL.md §9): the byte alone does not tell the
// caller the machine actually stopped jogging, only that the request was
// sent.
func (c *Controller) JogCancel(timeout time.Duration) error {
	bypass, err := c.sess.Bypass()
	if err != nil {
		return err
	}
	rt, err := c.realtimeByte(rtJogCancel)
	if err != nil {
		return err
	}

	sub := c.conn.Subscribe(TopicState())
	defer c.conn.Unsubscribe(sub)

	if c.Snapshot().Controller != jogState {
		return nil // already stopped; nothing to wait for
	}
	select {
	case bypass <- rt:
	default:
		return errcode.New("facade.jog_cancel", errcode.IOTransient, "bypass channel full")
	}

	deadline := time.After(timeout)
	for {
		select {
		case msg := <-sub.Channel():
			if ev, ok := msg.Payload.(types.StateTransitionEvent); ok && ev.To != jogState {
				return nil
			}
		case <-deadline:
			return errcode.New("facade.jog_cancel", errcode.Timeout, "controller did not leave jog state")
		}
	}
}

const jogState = types.Jog

// Home queues a homing cycle over axes (nil/empty means all axes).
func (c *Controller) Home(axes []string) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	if f.Home == nil {
		return nil, errcode.New("facade.home", errcode.NotSupported, "adapter has no home formatter")
	}
	return c.send(types.OriginUser, f.Home(axes), false, nil)
}

// Probe queues a probing move and returns its Command. The Command's
// Response does not carry the contact coordinates: the firmware's probe
// result line is not attached to the command, and an ok leaves Response
// empty. A probe that never contacts the workpiece completes Failed.
func (c *Controller) Probe(axis string, feed, dist float64) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	if f.Probe == nil {
		return nil, errcode.New("facade.probe", errcode.NotSupported, "adapter has no probe formatter")
	}
	return c.send(types.OriginUser, f.Probe(axis, feed, dist), false, nil)
}

// SetWorkZero zeroes the active WCS on axes (nil/empty means all axes).
func (c *Controller) SetWorkZero(axes []string) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	if f.SetWorkZero == nil {
		return nil, errcode.New("facade.set_work_zero", errcode.NotSupported, "adapter has no set_work_zero formatter")
	}
	return c.send(types.OriginUser, f.SetWorkZero(axes), false, nil)
}

// SelectWCS queues a work-coordinate-system select (1..=9, dialect-bound).
func (c *Controller) SelectWCS(n int) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	if f.SelectWCS == nil {
		return nil, errcode.New("facade.select_wcs", errcode.NotSupported, "adapter has no select_wcs formatter")
	}
	return c.send(types.OriginUser, f.SelectWCS(n), false, nil)
}

// ReadSettings, WriteSetting, Dwell, Spindle, and Coolant round out the
// Firmware Adapter's required command set (spec.md §4.9).
func (c *Controller) ReadSettings() (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	return c.send(types.OriginUser, f.ReadSettings(), false, nil)
}

func (c *Controller) WriteSetting(key, value string) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	return c.send(types.OriginUser, f.WriteSetting(key, value), false, nil)
}

func (c *Controller) Dwell(ms int) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	return c.send(types.OriginUser, f.Dwell(ms), false, nil)
}

func (c *Controller) Spindle(mode string, rpm float64) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	return c.send(types.OriginUser, f.Spindle(mode, rpm), false, nil)
}

func (c *Controller) Coolant(mode string) (*types.Command, error) {
	f, err := c.sess.Formatter()
	if err != nil {
		return nil, err
	}
	return c.send(types.OriginUser, f.Coolant(mode), false, nil)
}

// Override requests a feed/rapid/spindle override move to target (spec.md
// §4.11 "override(kind, delta|target)"), best-effort: a dropped byte is
// silently resynchronized by the next Status report.
func (c *Controller) Override(kind session.OverrideKind, target int) error {
	ov, err := c.sess.Overrides()
	if err != nil {
		return err
	}
	ov.RequestTarget(kind, target)
	return nil
}

// OverrideDelta nudges an override percentage by delta relative to its
// last intended value.
func (c *Controller) OverrideDelta(kind session.OverrideKind, delta int) error {
	ov, err := c.sess.Overrides()
	if err != nil {
		return err
	}
	ov.RequestDelta(kind, delta)
	return nil
}

// Reset writes the soft-reset real-time byte (spec.md §4.11 "reset").
func (c *Controller) Reset() error { return c.writeRealtime(rtSoftReset) }

// Unlock sends the GRBL-family `$X` alarm-clear command. Dialects without
// an alarm lock simply ack it.
func (c *Controller) Unlock() (*types.Command, error) {
	return c.send(types.OriginUser, "$X", false, nil)
}

// FeedHold writes the feed-hold real-time byte (spec.md §4.11 "feed_hold").
func (c *Controller) FeedHold() error { return c.writeRealtime(rtFeedHold) }

// CycleStart writes the cycle-start real-time byte (spec.md §4.11
// "cycle_start").
func (c *Controller) CycleStart() error { return c.writeRealtime(rtCycleStart) }

type realtimeKind int

const (
	rtSoftReset realtimeKind = iota
	rtFeedHold
	rtCycleStart
	rtJogCancel
)

func (c *Controller) realtimeByte(k realtimeKind) (byte, error) {
	desc, err := c.sess.Descriptor()
	if err != nil {
		return 0, err
	}
	var key types.RealtimeByte
	switch k {
	case rtSoftReset:
		key = types.RTSoftReset
	case rtFeedHold:
		key = types.RTFeedHold
	case rtCycleStart:
		key = types.RTCycleStart
	case rtJogCancel:
		key = types.RTJogCancel
	}
	b, ok := desc.RTBytes[key]
	if !ok {
		return 0, errcode.New("facade.realtime", errcode.NotSupported, fmt.Sprintf("adapter has no %s byte", key))
	}
	return b, nil
}

func (c *Controller) writeRealtime(k realtimeKind) error {
	bypass, err := c.sess.Bypass()
	if err != nil {
		return err
	}
	b, err := c.realtimeByte(k)
	if err != nil {
		return err
	}
	select {
	case bypass <- b:
		return nil
	default:
		return errcode.New("facade.realtime", errcode.IOTransient, "bypass channel full")
	}
}

// Topic helpers for Subscribe, naming the same topics session publishes
// to (session's topic vars are unexported, so the Facade constructs
// identical values independently rather than reaching into that package).
func TopicState() bus.Topic    { return bus.T("session", "state") }
func TopicCommand() bus.Topic  { return bus.T("session", "command") }
func TopicAlarm() bus.Topic    { return bus.T("session", "alarm") }
func TopicWelcome() bus.Topic  { return bus.T("session", "welcome") }
func TopicSnapshot() bus.Topic { return bus.T("session", "status") }
