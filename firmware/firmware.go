// Package firmware binds a wire dialect (classifier, command formatters,
// real-time byte table, capability descriptor) to the Dispatcher/Streamer
// pair. Concrete dialects (grbl, tinyg, smoothie) register themselves via
// RegisterAdapter in an init func, the same builder-registry shape the
// teacher uses for pluggable device adaptors.
package firmware

import (
	"fmt"
	"sync"

	"github.com/thawkins/gcodekit4-sub000/types"
)

// Classifier turns one trimmed inbound line into a tagged Record. It must
// be pure and stateless (aside from compiled regular expressions held by
// the closure), per spec.md §4.3.
type Classifier func(line string) types.Record

// Formatter builds the wire text (no trailing newline) for the command
// set every adapter must support: jog, home, probe, set-zero, WCS select,
// settings read/write, dwell, spindle, coolant.
type Formatter struct {
	Jog           func(axis string, dist, feed float64) string
	Home          func(axes []string) string
	Probe         func(axis string, feed, dist float64) string
	SetWorkZero   func(axes []string) string
	SelectWCS     func(n int) string
	ReadSettings  func() string
	WriteSetting  func(key, value string) string
	Dwell         func(ms int) string
	Spindle       func(mode string, rpm float64) string // mode: "m3"|"m4"|"m5"
	Coolant       func(mode string) string               // mode: "m7"|"m8"|"m9"
}

// Adapter is the per-dialect binding selected at connect time (spec.md
// §4.9): a classifier, a formatter set, a real-time byte table, the
// adapter's default receive-buffer capacity, and a capability lookup.
type Adapter interface {
	Dialect() types.Dialect
	Classify(line string) types.Record
	Formatter() Formatter
	RealtimeBytes() map[types.RealtimeByte]byte
	DefaultRxCapacity() int
	// Capabilities resolves version against the Capability Registry,
	// per spec.md §4.10's matching rule.
	Capabilities(version types.Version) types.CapabilityFlags
	// DetectWelcome reports whether a raw welcome line belongs to this
	// dialect, and if so, the parsed version. Used at connect time when
	// firmware.hint == "auto".
	DetectWelcome(line string) (types.Version, bool)
}

var (
	mu       sync.RWMutex
	adapters = map[types.Dialect]Adapter{}
)

// RegisterAdapter installs an Adapter for a dialect. Panics on duplicate
// registration, the same fail-fast-at-startup policy the teacher's device
// builder registry uses.
func RegisterAdapter(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	d := a.Dialect()
	if d == "" {
		panic("firmware: adapter with empty dialect")
	}
	if _, exists := adapters[d]; exists {
		panic(fmt.Sprintf("firmware: adapter already registered for dialect %q", d))
	}
	adapters[d] = a
}

// Lookup returns the registered Adapter for a dialect.
func Lookup(d types.Dialect) (Adapter, bool) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := adapters[d]
	return a, ok
}

// Detect tries every registered adapter's DetectWelcome against a raw
// Welcome line and returns the first match. Used when firmware.hint ==
// "auto"; iteration order is unspecified but in practice only one
// dialect's pattern will ever match a given banner.
func Detect(line string) (Adapter, types.Version, bool) {
	mu.RLock()
	defer mu.RUnlock()
	for _, a := range adapters {
		if v, ok := a.DetectWelcome(line); ok {
			return a, v, true
		}
	}
	return nil, types.Version{}, false
}

// Default returns the spec.md §4.9 default adapter (GRBL 1.1), used when
// no hint is given and no Welcome has been observed yet (e.g. to format
// the soft-reset byte before a dialect is known).
func Default() (Adapter, bool) {
	return Lookup(types.DialectGRBL)
}
