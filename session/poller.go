package session

import (
	"time"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/types"
)

// poller is the Status Poller (spec.md §4.6): a fixed-interval real-time
// byte request, auto-suspended while the Controller State can't usefully
// answer one. Unlike the Watchdog's per-command deadlines (watchdog.go),
// a session has exactly one status interval in flight at a time, so a
// plain time.Ticker is the right shape here rather than the heap the
// Watchdog needs for many concurrent deadlines.
type poller struct {
	statusByte byte
	bypass     chan<- byte

	state *stateHolder
	conn  *bus.Connection
	done  <-chan struct{}

	intervalCh <-chan time.Duration // reconfigure requests (config/poll)
	interval   time.Duration
}

func newPoller(statusByte byte, bypass chan<- byte, state *stateHolder, conn *bus.Connection, interval time.Duration, intervalCh <-chan time.Duration, done <-chan struct{}) *poller {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &poller{
		statusByte: statusByte,
		bypass:     bypass,
		state:      state,
		conn:       conn,
		done:       done,
		intervalCh: intervalCh,
		interval:   interval,
	}
}

// Run ticks at the configured interval, requesting a status report unless
// the Controller State is Disconnected, Connecting or Alarm (spec.md §4.6: "suspended
// while disconnected or alarmed, since neither state answers").
func (p *poller) Run() {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case d := <-p.intervalCh:
			if d > 0 {
				p.interval = d
				t.Reset(d)
			}
		case <-t.C:
			if p.suspended() {
				continue
			}
			select {
			case p.bypass <- p.statusByte:
			default:
				// Streamer's bypass buffer is momentarily full; skip this
				// tick rather than block the poll loop.
			}
		}
	}
}

func (p *poller) suspended() bool {
	switch p.state.Snapshot().Controller {
	case types.Disconnected, types.Alarm, types.Connecting:
		return true
	default:
		return false
	}
}
