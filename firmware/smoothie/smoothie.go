// Package smoothie implements the Smoothieware and FluidNC dialects.
// Both follow GRBL's wire conventions (spec.md §4.3: "FluidNC and
// Smoothieware follow GRBL conventions with small additions"), so this
// package reuses grbl.Classify for the shared cases and only overrides
// welcome detection, capability tables, and the handful of formatter
// differences (FluidNC's WiFi-aware settings namespace, Smoothieware's
// lack of a jog-cancel byte).
package smoothie

import (
	"fmt"
	"strings"

	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/firmware/grbl"
	"github.com/thawkins/gcodekit4-sub000/types"
)

func init() {
	firmware.RegisterAdapter(adapter{dialect: types.DialectSmoothieware, banner: "smoothie"})
	firmware.RegisterAdapter(adapter{dialect: types.DialectFluidNC, banner: "fluidnc"})
}

type adapter struct {
	dialect types.Dialect
	banner  string
}

func (a adapter) Dialect() types.Dialect { return a.dialect }

func (adapter) DefaultRxCapacity() int { return 128 }

func (a adapter) Classify(line string) types.Record {
	rec := grbl.Classify(line)
	// Smoothieware's Welcome banner doesn't contain "Grbl"; GRBL's
	// classifier would otherwise fall through to Unknown for it.
	if rec.Kind == types.RecUnknown && strings.Contains(strings.ToLower(line), a.banner) {
		rec.Kind = types.RecWelcome
		v, _ := a.DetectWelcome(line)
		rec.Welcome = types.WelcomeInfo{Dialect: a.dialect, Version: v}
	}
	return rec
}

var realtimeBytesSmoothie = map[types.RealtimeByte]byte{
	types.RTStatus:     '?',
	types.RTFeedHold:   '!',
	types.RTCycleStart: '~',
	types.RTSoftReset:  0x18,
}

// fluidNC adds a jog-cancel byte and override bytes on top of
// Smoothieware's baseline table, matching its GRBL-v1.1-derived command
// set (spec.md §6).
var realtimeBytesFluidNC = map[types.RealtimeByte]byte{
	types.RTStatus:         '?',
	types.RTFeedHold:       '!',
	types.RTCycleStart:     '~',
	types.RTSoftReset:      0x18,
	types.RTJogCancel:      0x85,
	types.RTFeedPlus10:     0x91,
	types.RTFeedMinus10:    0x92,
	types.RTFeedPlus1:      0x93,
	types.RTFeedMinus1:     0x94,
	types.RTSpindlePlus10:  0x9A,
	types.RTSpindleMinus10: 0x9B,
}

func (a adapter) RealtimeBytes() map[types.RealtimeByte]byte {
	src := realtimeBytesSmoothie
	if a.dialect == types.DialectFluidNC {
		src = realtimeBytesFluidNC
	}
	out := make(map[types.RealtimeByte]byte, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

var smoothieCaps = firmware.NewCapRegistry(types.DialectSmoothieware, types.CapabilityFlags{
	MaxAxes: 6, CoordSystems: 9, Arcs: true, Probing: true, VariableSpindle: true,
	Homing: true, Overrides: false, StatusReports: true, RealtimeCommands: true,
	SoftLimits: true, HardLimits: true,
})

var fluidncCaps = firmware.NewCapRegistry(types.DialectFluidNC, types.CapabilityFlags{
	MaxAxes: 6, CoordSystems: 9, Arcs: true, Probing: true, ProbeAway: true,
	VariableSpindle: true, Homing: true, Overrides: true, StatusReports: true,
	RealtimeCommands: true, Macros: true, SoftLimits: true, HardLimits: true,
	DoorInterlock: true,
})

func (a adapter) Capabilities(v types.Version) types.CapabilityFlags {
	if a.dialect == types.DialectFluidNC {
		return fluidncCaps.Resolve(v)
	}
	return smoothieCaps.Resolve(v)
}

func (a adapter) DetectWelcome(line string) (types.Version, bool) {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, a.banner) {
		return types.Version{}, false
	}
	for _, f := range strings.Fields(line) {
		if v, ok := grbl.ParseVersionToken(f); ok {
			return v, true
		}
	}
	return types.Version{}, true
}

func (a adapter) Formatter() firmware.Formatter {
	base := grbl.Adapter{}.Formatter()
	if a.dialect != types.DialectFluidNC {
		return base
	}
	// FluidNC exposes its WiFi/settings namespace under "$" like GRBL but
	// accepts a wider settings key format; everything else is identical.
	base.WriteSetting = func(key, value string) string {
		return fmt.Sprintf("$%s=%s", key, value)
	}
	return base
}
