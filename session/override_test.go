package session

import (
	"testing"

	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/types"

	_ "github.com/thawkins/gcodekit4-sub000/firmware/grbl"
)

func newTestOverrideManager(t *testing.T) (*overrideManager, chan byte) {
	t.Helper()
	adapter, ok := firmware.Lookup(types.DialectGRBL)
	if !ok {
		t.Fatal("grbl adapter not registered")
	}
	bypass := make(chan byte, 64)
	return newOverrideManager(adapter, bypass), bypass
}

func drainBytes(ch chan byte) []byte {
	var out []byte
	for {
		select {
		case b := <-ch:
			out = append(out, b)
		default:
			return out
		}
	}
}

// S6: requesting feed 130% from a reported 100% emits one +10 step three
// times, the minimal sequence to converge.
func TestOverrideRequestTargetEmitsMinimalSteps(t *testing.T) {
	m, bypass := newTestOverrideManager(t)
	m.RequestTarget(OverrideFeed, 130)

	got := drainBytes(bypass)
	want := []byte{0x91, 0x91, 0x91} // RTFeedPlus10 x3
	if len(got) != len(want) {
		t.Fatalf("got %d bytes %v, want %d bytes %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

// A Status report resynchronizes reported percentage, so a later request
// converges from the newly reported value, not the stale intended one.
func TestOverrideOnStatusResyncsReportedBaseline(t *testing.T) {
	m, bypass := newTestOverrideManager(t)
	m.OnStatus(types.Overrides{Feed: 150, Rapid: 100, Spindle: 100})
	drainBytes(bypass) // nothing emitted by OnStatus itself

	m.RequestTarget(OverrideFeed, 140)
	got := drainBytes(bypass)
	want := []byte{0x92} // RTFeedMinus10, 150 -> 140
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// Rapid overrides snap to the nearest admitted step {25,50,100} and emit a
// single absolute byte rather than a convergence sequence.
func TestOverrideRapidSnapsToNearestStep(t *testing.T) {
	m, bypass := newTestOverrideManager(t)
	m.RequestTarget(OverrideRapid, 60)

	got := drainBytes(bypass)
	if len(got) != 1 || got[0] != 0x96 { // RTRapid50
		t.Fatalf("got %v, want [0x96] (rapid 50%%, nearest to 60)", got)
	}
}

// RequestDelta clamps the intended percentage into [10,200].
func TestOverrideDeltaClampsRange(t *testing.T) {
	m, bypass := newTestOverrideManager(t)
	m.RequestDelta(OverrideSpindle, -1000)
	drainBytes(bypass)
	if got := m.intended[OverrideSpindle]; got != 10 {
		t.Fatalf("intended spindle = %d, want clamped to 10", got)
	}
}
