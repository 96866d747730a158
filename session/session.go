// Package session wires the Dispatcher, Streamer, Status Poller, Watchdog
// and Firmware Adapter into one supervised connection to a controller,
// reconfigured from retained Bus messages rather than a direct import of
// the config loader (spec.md §4.1, §4.11; SPEC_FULL.md §4.13). The
// reconnect-with-backoff shape is grounded on the teacher's
// services/bridge/bridge.go Service.reconfigure/runLink/backoffSeq.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/errcode"
	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/framer"
	"github.com/thawkins/gcodekit4-sub000/transport"
	"github.com/thawkins/gcodekit4-sub000/types"
	"github.com/thawkins/gcodekit4-sub000/x/timex"
)

// Metrics is the full observation surface a Session drives; implemented
// by metrics.Registry. A nil Metrics is replaced by a no-op sink.
type Metrics interface {
	dispatcherMetrics
}

// Session supervises a single logical connection to a controller: one
// config-driven link at a time, restarted with backoff on transport
// failure, rebuilt from scratch (new Dispatcher/Streamer/Poller/Watchdog)
// on every successful (re)connect, matching spec.md §5's "fresh Streamer,
// Dispatcher and In-Flight per connection" rule.
type Session struct {
	conn    *bus.Connection
	metrics Metrics

	idGen atomic.Uint64

	mu      sync.Mutex
	curStop context.CancelFunc
	live    *linkHandles // nil while disconnected
}

// linkHandles is the set of per-connection objects the Facade needs to
// reach; valid only while the current link is up.
type linkHandles struct {
	tr        transport.Transport
	q         *queue
	state     *stateHolder
	str       *streamer
	overrides *overrideManager
	adapter   firmware.Adapter
	caps      types.FirmwareDescriptor
}

// NewSession builds a Session publishing observability onto conn. metrics
// may be nil.
func NewSession(conn *bus.Connection, metrics Metrics) *Session {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Session{conn: conn, metrics: metrics}
}

// Run blocks, applying each retained config/root message it observes as
// a (re)connect request, until ctx is cancelled (spec.md §4.1's
// "reconfigured... without tearing down the whole session" via the Bus
// rather than a direct call, grounded on bridge.Service.run).
func (s *Session) Run(ctx context.Context) {
	sub := s.conn.Subscribe(topicConfigRoot)
	defer s.conn.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			cfg, ok := msg.Payload.(types.Config)
			if !ok {
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Session) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curStop != nil {
		s.curStop()
		s.curStop = nil
	}
}

func (s *Session) reconfigure(parent context.Context, cfg types.Config) {
	s.mu.Lock()
	if s.curStop != nil {
		s.curStop()
	}
	linkCtx, cancel := context.WithCancel(parent)
	s.curStop = cancel
	s.mu.Unlock()

	go s.runLink(linkCtx, cfg)
}

// runLink owns one config generation's dial-and-retry loop.
func (s *Session) runLink(ctx context.Context, cfg types.Config) {
	tcfg := transport.Config{
		Kind: cfg.Transport.Kind, Port: cfg.Transport.Port,
		Address: cfg.Transport.Address, Baud: cfg.Transport.Baud,
	}
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tr, err := transport.New(tcfg)
		if err != nil {
			log.WithError(err).WithField("kind", tcfg.Kind).Error("transport init failed")
			s.publishLinkState("error", fmt.Sprintf("transport init: %v", err))
			return // misconfiguration, not transient: don't retry
		}
		if err := tr.Open(ctx); err != nil {
			d := backoff()
			log.WithError(err).WithField("retry_in", d).Warn("dial failed")
			s.publishLinkState("degraded", fmt.Sprintf("dial failed, retry in %s: %v", d, err))
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}

		log.WithField("transport", tr.String()).Info("link established")
		s.publishLinkState("up", "link established")
		if err := s.runOneConnection(ctx, tr, cfg); err != nil {
			_ = tr.Close()
			d := backoff()
			log.WithError(err).WithField("retry_in", d).Warn("link lost")
			s.publishLinkState("degraded", fmt.Sprintf("link lost, retry in %s: %v", d, err))
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}
		return // ctx cancelled cleanly
	}
}

// runOneConnection performs the connect handshake (spec.md §6), builds a
// fresh Dispatcher/Streamer/Poller/Watchdog, and blocks until the link
// collapses or ctx is cancelled.
func (s *Session) runOneConnection(ctx context.Context, tr transport.Transport, cfg types.Config) error {
	linkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := newStateHolder(s.conn)
	state.Transition(types.Connecting, 0)

	adapter, ver, err := s.handshake(linkCtx, tr, cfg.Firmware.Hint)
	if err != nil {
		state.Transition(types.Disconnected, 0)
		return err
	}

	rxCapacity := cfg.Flow.RxCapacity
	if rxCapacity <= 0 {
		rxCapacity = adapter.DefaultRxCapacity()
	}
	descriptor := types.FirmwareDescriptor{
		Dialect: adapter.Dialect(), Version: ver, RxCapacity: rxCapacity,
		RTBytes: adapter.RealtimeBytes(), Caps: adapter.Capabilities(ver),
	}
	s.conn.Publish(&bus.Message{
		Topic: topicWelcome, Retained: true,
		Payload: types.WelcomeEvent{Descriptor: descriptor, At: time.Now()},
	})
	state.Transition(types.Idle, 0)

	q := newQueue(cfg.Queue.Capacity)
	sentCh := make(chan *types.Command, 16)
	writeErrCh := make(chan writeFailure, 4)
	timeoutCh := make(chan uint64, 16)
	wake := make(chan struct{}, 1)
	pollIntervalCh := make(chan time.Duration, 1)

	str := newStreamer(tr, q, rxCapacity, sentCh, writeErrCh, wake, linkCtx.Done(), s.metrics)
	overrides := newOverrideManager(adapter, str.Bypass())

	errCh := make(chan error, 1)
	collapse := func(err error) {
		select {
		case errCh <- err:
		default:
		}
		cancel()
	}

	d := newDispatcher(tr, adapter, q, state, str, sentCh, writeErrCh, timeoutCh, linkCtx.Done(), s.conn, cfg.Stream.HaltOnError, s.metrics, collapse)
	d.SetOverrides(overrides)
	wd := newWatchdog(time.Duration(cfg.Timeout.CommandMS)*time.Millisecond, timeoutCh, linkCtx.Done())
	d.SetWatchdog(wd)
	p := newPoller(adapter.RealtimeBytes()[types.RTStatus], str.Bypass(), state, s.conn, time.Duration(cfg.Poll.IntervalMS)*time.Millisecond, pollIntervalCh, linkCtx.Done())

	s.setLive(&linkHandles{tr: tr, q: q, state: state, str: str, overrides: overrides, adapter: adapter, caps: descriptor})
	defer s.setLive(nil)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); str.Run() }()
	go func() { defer wg.Done(); p.Run() }()
	go func() { defer wg.Done(); wd.Run() }()
	d.Run()
	cancel()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("transport closed")
}

// handshake performs spec.md §6's connect sequence: soft-reset, then wait
// up to 2s for a Welcome banner, selecting an adapter by hint or by
// Welcome match ("auto").
func (s *Session) handshake(ctx context.Context, tr transport.Transport, hint string) (firmware.Adapter, types.Version, error) {
	def, _ := firmware.Default()
	if softReset, ok := def.RealtimeBytes()[types.RTSoftReset]; ok {
		_, _ = tr.Write([]byte{softReset})
	}

	tr.SetReadTimeout(200 * time.Millisecond)
	var fr framer.Framer
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, types.Version{}, ctx.Err()
		default:
		}
		n, err := tr.Read(buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			return nil, types.Version{}, err
		}
		if n == 0 {
			continue
		}
		for _, line := range fr.Feed(buf[:n]) {
			if hint != "" && hint != "auto" {
				a, ok := firmware.Lookup(types.Dialect(hint))
				if !ok {
					return nil, types.Version{}, fmt.Errorf("unknown firmware hint %q", hint)
				}
				if v, ok := a.DetectWelcome(line); ok {
					return a, v, nil
				}
				if _, v, ok := firmware.Detect(line); ok {
					return a, v, nil
				}
				continue
			}
			if a, v, ok := firmware.Detect(line); ok {
				return a, v, nil
			}
		}
	}
	return nil, types.Version{}, errcode.New("session.handshake", errcode.Timeout, "no welcome banner within handshake window")
}

func (s *Session) setLive(h *linkHandles) {
	s.mu.Lock()
	s.live = h
	s.mu.Unlock()
}

func (s *Session) publishLinkState(state, detail string) {
	s.conn.Publish(&bus.Message{
		Topic:    bus.T("session", "link"),
		Retained: true,
		Payload: map[string]string{
			"state": state, "detail": detail,
			"ts_ms": strconv.FormatInt(timex.NowMs(), 10),
		},
	})
}

// NextID issues a monotonically increasing Command ID for the Facade.
func (s *Session) NextID() uint64 { return s.idGen.Add(1) }

// ErrNotConnected is returned by Facade operations attempted while no
// link is up.
var ErrNotConnected = errcode.New("session", errcode.Disconnected, "no active connection")

func (s *Session) live_() (*linkHandles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return nil, ErrNotConnected
	}
	return s.live, nil
}

// Enqueue blocks until the command is accepted or the session has no
// active connection.
func (s *Session) Enqueue(c *types.Command, done <-chan struct{}) error {
	h, err := s.live_()
	if err != nil {
		return err
	}
	return h.q.Enqueue(c, done)
}

// TryEnqueue enqueues without blocking (Facade's default for user-issued
// single commands).
func (s *Session) TryEnqueue(c *types.Command) error {
	h, err := s.live_()
	if err != nil {
		return err
	}
	return h.q.TryEnqueue(c)
}

// Bypass exposes the active Streamer's real-time byte channel, for the
// Facade's reset/feed_hold/cycle_start/jog_cancel operations.
func (s *Session) Bypass() (chan<- byte, error) {
	h, err := s.live_()
	if err != nil {
		return nil, err
	}
	return h.str.Bypass(), nil
}

// Formatter exposes the active adapter's command-string builders.
func (s *Session) Formatter() (firmware.Formatter, error) {
	h, err := s.live_()
	if err != nil {
		return firmware.Formatter{}, err
	}
	return h.adapter.Formatter(), nil
}

// Overrides exposes the active Override Manager.
func (s *Session) Overrides() (*overrideManager, error) {
	h, err := s.live_()
	if err != nil {
		return nil, err
	}
	return h.overrides, nil
}

// Descriptor returns the active connection's resolved firmware binding.
func (s *Session) Descriptor() (types.FirmwareDescriptor, error) {
	h, err := s.live_()
	if err != nil {
		return types.FirmwareDescriptor{}, err
	}
	return h.caps, nil
}

// Snapshot returns the active Machine State, or the zero-value
// Disconnected state if no link is up.
func (s *Session) Snapshot() types.MachineState {
	s.mu.Lock()
	h := s.live
	s.mu.Unlock()
	if h == nil {
		return types.MachineState{Controller: types.Disconnected}
	}
	return h.state.Snapshot()
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type noopMetrics struct{}

func (noopMetrics) SetPendingChars(int)                {}
func (noopMetrics) SetInFlight(int)                    {}
func (noopMetrics) IncAcks()                           {}
func (noopMetrics) IncErrors()                         {}
func (noopMetrics) IncAlarms()                         {}
func (noopMetrics) IncSpuriousAcks()                   {}
func (noopMetrics) ObserveCommandLatency(time.Duration) {}
