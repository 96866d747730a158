// Package grbl implements the GRBL-family wire dialect: classifier,
// command formatter, real-time byte table, and capability descriptors for
// GRBL and grblHAL. Smoothieware and FluidNC are close variants built on
// top of this classifier (see firmware/smoothie).
package grbl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/types"
)

func init() {
	firmware.RegisterAdapter(adapter{})
}

// Adapter is the GRBL/grblHAL firmware.Adapter implementation. Exported
// so GRBL-derived dialects (smoothieware, fluidnc) can embed or call its
// methods directly rather than re-deriving the same wire shape.
type Adapter = adapter

type adapter struct{}

func (adapter) Dialect() types.Dialect { return types.DialectGRBL }

func (adapter) DefaultRxCapacity() int { return 128 }

// realtimeBytes is the GRBL real-time byte table (spec.md §6).
var realtimeBytes = map[types.RealtimeByte]byte{
	types.RTStatus:           '?',
	types.RTFeedHold:         '!',
	types.RTCycleStart:       '~',
	types.RTSoftReset:        0x18,
	types.RTJogCancel:        0x85,
	types.RTRapid25:          0x97,
	types.RTRapid50:          0x96,
	types.RTRapid100:         0x95,
	types.RTFeedPlus10:       0x91,
	types.RTFeedMinus10:      0x92,
	types.RTFeedPlus1:        0x93,
	types.RTFeedMinus1:       0x94,
	types.RTFeedReset:        0x90,
	types.RTSpindlePlus10:    0x9A,
	types.RTSpindleMinus10:   0x9B,
	types.RTSpindlePlus1:     0x9C,
	types.RTSpindleMinus1:    0x9D,
	types.RTSpindleReset:     0x99,
}

func (adapter) RealtimeBytes() map[types.RealtimeByte]byte {
	out := make(map[types.RealtimeByte]byte, len(realtimeBytes))
	for k, v := range realtimeBytes {
		out[k] = v
	}
	return out
}

var caps = firmware.NewCapRegistry(types.DialectGRBL, types.CapabilityFlags{
	MaxAxes:          3,
	CoordSystems:     6,
	Arcs:             true,
	Homing:           true,
	Overrides:        false,
	StatusReports:    true,
	RealtimeCommands: true,
	SoftLimits:       true,
	HardLimits:       true,
}).Add(1, 1, types.CapabilityFlags{
	MaxAxes:          6,
	CoordSystems:     9,
	Arcs:             true,
	Probing:          true,
	ProbeAway:        true,
	VariableSpindle:  true,
	Homing:           true,
	Overrides:        true,
	StatusReports:    true,
	RealtimeCommands: true,
	SoftLimits:       true,
	HardLimits:       true,
	DoorInterlock:    true,
})

func (adapter) Capabilities(v types.Version) types.CapabilityFlags { return caps.Resolve(v) }

// DetectWelcome matches a line containing "Grbl" or "GrblHAL" followed by
// a version token, e.g. "Grbl 1.1h ['$' for help]".
func (adapter) DetectWelcome(line string) (types.Version, bool) {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, "grbl") {
		return types.Version{}, false
	}
	fields := strings.Fields(line)
	for _, f := range fields {
		if v, ok := parseVersionToken(f); ok {
			return v, true
		}
	}
	return types.Version{}, true // recognized banner, version unparseable
}

// ParseVersionToken parses "1.1h" / "1.1.5" style tokens. A trailing
// non-digit suffix ("h" in "1.1h") is tolerated and ignored. Exported for
// reuse by GRBL-derived dialects (smoothieware, fluidnc) whose welcome
// banners carry the same version token shape.
func ParseVersionToken(tok string) (types.Version, bool) { return parseVersionToken(tok) }

func parseVersionToken(tok string) (types.Version, bool) {
	tok = strings.TrimFunc(tok, func(r rune) bool { return r == '[' || r == ']' })
	digits := strings.Map(func(r rune) rune {
		if r == '.' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, tok)
	if digits == "" {
		return types.Version{}, false
	}
	parts := strings.SplitN(digits, ".", 3)
	if len(parts) < 2 {
		return types.Version{}, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return types.Version{}, false
	}
	v := types.Version{Major: major, Minor: minor}
	if len(parts) == 3 {
		if patch, err := strconv.Atoi(parts[2]); err == nil {
			v.Patch = patch
		}
	}
	return v, true
}

// Classify implements spec.md §4.3's GRBL-family policy, bit-exact.
func Classify(line string) types.Record {
	switch {
	case line == "ok":
		return types.Record{Kind: types.RecAck, Raw: line}

	case strings.HasPrefix(line, "error:"):
		n, _ := strconv.Atoi(strings.TrimPrefix(line, "error:"))
		return types.Record{Kind: types.RecErr, Raw: line, ErrCode: n}

	case strings.HasPrefix(line, "ALARM:"):
		n, _ := strconv.Atoi(strings.TrimPrefix(line, "ALARM:"))
		return types.Record{Kind: types.RecAlarm, Raw: line, AlarmCode: n}

	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		return types.Record{Kind: types.RecStatus, Raw: line, Status: parseStatus(line)}

	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		return types.Record{Kind: types.RecFeedback, Raw: line, FeedbackText: strings.Trim(line, "[]")}

	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		k, v, _ := strings.Cut(strings.TrimPrefix(line, "$"), "=")
		return types.Record{Kind: types.RecSetting, Raw: line, SettingKey: k, SettingValue: v}

	case strings.Contains(line, "Grbl") || strings.Contains(line, "GrblHAL"):
		v, _ := (adapter{}).DetectWelcome(line)
		return types.Record{Kind: types.RecWelcome, Raw: line, Welcome: types.WelcomeInfo{Dialect: types.DialectGRBL, Version: v}}

	default:
		return types.Record{Kind: types.RecUnknown, Raw: line}
	}
}

func (adapter) Classify(line string) types.Record { return Classify(line) }

// parseStatus parses the '<...>' status body into a types.StatusUpdate,
// tolerating missing and unknown fields per spec.md §6.
func parseStatus(line string) types.StatusUpdate {
	body := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
	parts := strings.Split(body, "|")
	var upd types.StatusUpdate
	if len(parts) == 0 {
		return upd
	}
	upd.HasState = true
	upd.Controller = parseControllerState(parts[0])

	for _, part := range parts[1:] {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch key {
		case "MPos":
			coords := parseFloats(val)
			upd.HasMachinePos = true
			upd.Axes = len(coords)
			for i, c := range coords {
				if i >= 6 {
					break
				}
				upd.MachinePos[i] = c
			}
		case "WCO":
			coords := parseFloats(val)
			upd.HasWorkOffset = true
			for i, c := range coords {
				if i >= 6 {
					break
				}
				upd.WorkOffset[i] = c
			}
		case "FS":
			fs := parseFloats(val)
			if len(fs) >= 2 {
				upd.HasFeedSpindle = true
				upd.FeedActual = fs[0]
				upd.SpindleActual = fs[1]
			}
		case "Pn":
			upd.HasPins = true
			upd.Pins = parsePins(val)
		case "Ov":
			ov := parseInts(val)
			if len(ov) >= 3 {
				upd.HasOverrides = true
				upd.Overrides = types.Overrides{Feed: ov[0], Rapid: ov[1], Spindle: ov[2]}
			}
		case "WCS":
			upd.HasWCS = true
			upd.ActiveWCS = val
		}
	}
	return upd
}

func parseControllerState(s string) types.ControllerState {
	// A leading Alarm state in GRBL never carries a code inline here;
	// the code comes from a separate "ALARM:<n>" line (spec.md §4.3).
	switch strings.ToLower(s) {
	case "idle":
		return types.Idle
	case "run":
		return types.Run
	case "hold", "hold:0", "hold:1":
		return types.Hold
	case "jog":
		return types.Jog
	case "alarm":
		return types.Alarm
	case "door", "door:0", "door:1", "door:2", "door:3":
		return types.Door
	case "check":
		return types.Check
	case "home", "homing":
		return types.Home
	case "sleep":
		return types.Sleep
	default:
		return types.Idle
	}
}

func parseFloats(csv string) []float64 {
	fields := strings.Split(csv, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func parseInts(csv string) []int {
	fields := strings.Split(csv, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func parsePins(s string) types.PinStates {
	var p types.PinStates
	for _, r := range s {
		switch r {
		case 'X':
			p.Limit[0] = true
		case 'Y':
			p.Limit[1] = true
		case 'Z':
			p.Limit[2] = true
		case 'A':
			p.Limit[3] = true
		case 'B':
			p.Limit[4] = true
		case 'C':
			p.Limit[5] = true
		case 'P':
			p.Probe = true
		case 'D':
			p.Door = true
		}
	}
	return p
}

func (adapter) Formatter() firmware.Formatter {
	return firmware.Formatter{
		Jog: func(axis string, dist, feed float64) string {
			return fmt.Sprintf("$J=G91 G21 %s%g F%g", axis, dist, feed)
		},
		Home: func(axes []string) string {
			if len(axes) == 0 {
				return "$H"
			}
			return "$H" + strings.Join(axes, "")
		},
		Probe: func(axis string, feed, dist float64) string {
			return fmt.Sprintf("G38.2 %s%g F%g", axis, dist, feed)
		},
		SetWorkZero: func(axes []string) string {
			if len(axes) == 0 {
				return "G10 L20 P0 X0 Y0 Z0"
			}
			var sb strings.Builder
			sb.WriteString("G10 L20 P0")
			for _, a := range axes {
				fmt.Fprintf(&sb, " %s0", a)
			}
			return sb.String()
		},
		SelectWCS: func(n int) string {
			codes := []string{"G54", "G55", "G56", "G57", "G58", "G59"}
			if n >= 1 && n <= len(codes) {
				return codes[n-1]
			}
			return "G54"
		},
		ReadSettings: func() string { return "$$" },
		WriteSetting: func(key, value string) string {
			return "$" + key + "=" + value
		},
		Dwell: func(ms int) string { return fmt.Sprintf("G4 P%g", float64(ms)/1000) },
		Spindle: func(mode string, rpm float64) string {
			switch strings.ToLower(mode) {
			case "m3":
				return fmt.Sprintf("M3 S%g", rpm)
			case "m4":
				return fmt.Sprintf("M4 S%g", rpm)
			default:
				return "M5"
			}
		},
		Coolant: func(mode string) string { return strings.ToUpper(mode) },
	}
}
