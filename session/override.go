package session

import (
	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/types"
	"github.com/thawkins/gcodekit4-sub000/x/mathx"
)

// OverrideKind names one of the three override channels (spec.md §4.8).
type OverrideKind string

const (
	OverrideFeed    OverrideKind = "feed"
	OverrideRapid   OverrideKind = "rapid"
	OverrideSpindle OverrideKind = "spindle"
)

// rapidSteps are the only values GRBL-family rapid override admits
// (spec.md §4.8: "For rapid overrides, which only admit {25, 50, 100}").
var rapidSteps = [...]int{25, 50, 100}

// overrideManager translates override requests into real-time bytes and
// tracks intended-vs-reported percentage, converging as new Status
// reports arrive (spec.md §4.8, tested by S6).
type overrideManager struct {
	bytes map[types.RealtimeByte]byte

	intended map[OverrideKind]int
	reported map[OverrideKind]int

	// bypass is the Streamer's out-of-band single-byte input.
	bypass chan<- byte
}

func newOverrideManager(adapter firmware.Adapter, bypass chan<- byte) *overrideManager {
	return &overrideManager{
		bytes:    adapter.RealtimeBytes(),
		intended: map[OverrideKind]int{OverrideFeed: 100, OverrideRapid: 100, OverrideSpindle: 100},
		reported: map[OverrideKind]int{OverrideFeed: 100, OverrideRapid: 100, OverrideSpindle: 100},
		bypass:   bypass,
	}
}

// OnStatus resynchronizes reported percentages from a Status update (the
// mechanism spec.md §4.8 relies on to recover from a lost byte).
func (m *overrideManager) OnStatus(ov types.Overrides) {
	m.reported[OverrideFeed] = ov.Feed
	m.reported[OverrideRapid] = ov.Rapid
	m.reported[OverrideSpindle] = ov.Spindle
}

// RequestDelta nudges the intended percentage by delta (e.g. ±1, ±10) and
// emits the shortest real-time byte sequence to converge, clamped to
// [10,200] for feed/spindle per common firmware limits.
func (m *overrideManager) RequestDelta(kind OverrideKind, delta int) {
	target := mathx.Clamp(m.intended[kind]+delta, 10, 200)
	m.RequestTarget(kind, target)
}

// RequestTarget sets the intended percentage directly. Rapid overrides
// snap to the nearest admitted step (spec.md §4.8).
func (m *overrideManager) RequestTarget(kind OverrideKind, target int) {
	if kind == OverrideRapid {
		target = nearestRapidStep(target)
	}
	m.intended[kind] = target
	m.emitConvergence(kind)
}

// emitConvergence computes and writes the minimal ±10/±1 byte sequence
// from the last reported percentage toward the intended one (spec.md
// §4.8 / S6). Rapid overrides are a single absolute-value byte instead.
func (m *overrideManager) emitConvergence(kind OverrideKind) {
	if kind == OverrideRapid {
		m.sendRapid(m.intended[kind])
		return
	}

	cur := m.reported[kind]
	target := m.intended[kind]
	plus10, minus10, plus1, minus1, reset := kind.bytes(m.bytes)

	for cur != target {
		diff := target - cur
		switch {
		case diff >= 10 && plus10 != 0:
			m.send(plus10)
			cur += 10
		case diff <= -10 && minus10 != 0:
			m.send(minus10)
			cur -= 10
		case diff > 0 && plus1 != 0:
			m.send(plus1)
			cur++
		case diff < 0 && minus1 != 0:
			m.send(minus1)
			cur--
		case diff == 0:
			// reached target exactly
		default:
			// No byte can close the remaining gap (e.g. dialect lacks
			// ±1 step); stop rather than loop forever.
			return
		}
	}
	_ = reset // reserved for a future explicit "reset to 100%" request
}

func (k OverrideKind) bytes(table map[types.RealtimeByte]byte) (plus10, minus10, plus1, minus1, reset byte) {
	switch k {
	case OverrideFeed:
		return table[types.RTFeedPlus10], table[types.RTFeedMinus10], table[types.RTFeedPlus1], table[types.RTFeedMinus1], table[types.RTFeedReset]
	case OverrideSpindle:
		return table[types.RTSpindlePlus10], table[types.RTSpindleMinus10], table[types.RTSpindlePlus1], table[types.RTSpindleMinus1], table[types.RTSpindleReset]
	default:
		return 0, 0, 0, 0, 0
	}
}

func (m *overrideManager) sendRapid(pct int) {
	var rt types.RealtimeByte
	switch pct {
	case 25:
		rt = types.RTRapid25
	case 50:
		rt = types.RTRapid50
	default:
		rt = types.RTRapid100
	}
	if b, ok := m.bytes[rt]; ok {
		m.send(b)
	}
}

func (m *overrideManager) send(b byte) {
	select {
	case m.bypass <- b:
	default:
		// Bypass channel momentarily full; the next Status resynchronizes
		// intent per spec.md §4.8, so dropping here is safe, not silent
		// data loss of command state.
	}
}

func nearestRapidStep(target int) int {
	best := rapidSteps[0]
	bestDist := mathx.Abs(target - best)
	for _, s := range rapidSteps[1:] {
		if d := mathx.Abs(target - s); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}
