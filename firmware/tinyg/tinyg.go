// Package tinyg implements the TinyG/g2core wire dialect: JSON-envelope
// classification, command formatting, and capability descriptors.
// g2core shares TinyG's wire shape closely enough to register under the
// same classifier with its own dialect tag and capability table.
package tinyg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andreyvit/tinyjson"

	"github.com/thawkins/gcodekit4-sub000/firmware"
	"github.com/thawkins/gcodekit4-sub000/types"
)

func init() {
	firmware.RegisterAdapter(adapter{dialect: types.DialectTinyG})
	firmware.RegisterAdapter(adapter{dialect: types.DialectG2Core})
}

type adapter struct {
	dialect types.Dialect
}

func (a adapter) Dialect() types.Dialect { return a.dialect }

func (adapter) DefaultRxCapacity() int { return 255 }

var realtimeBytes = map[types.RealtimeByte]byte{
	types.RTStatus:     '?',
	types.RTFeedHold:   '!',
	types.RTCycleStart: '~',
	types.RTSoftReset:  0x18,
	types.RTJogCancel:  0x85,
}

func (adapter) RealtimeBytes() map[types.RealtimeByte]byte {
	out := make(map[types.RealtimeByte]byte, len(realtimeBytes))
	for k, v := range realtimeBytes {
		out[k] = v
	}
	return out
}

var tinygCaps = firmware.NewCapRegistry(types.DialectTinyG, types.CapabilityFlags{
	MaxAxes: 6, CoordSystems: 9, Arcs: true, Probing: true, VariableSpindle: true,
	Homing: true, Overrides: false, StatusReports: true, RealtimeCommands: true,
	SoftLimits: true, HardLimits: true,
}).Add(0, 97, types.CapabilityFlags{
	MaxAxes: 6, CoordSystems: 9, Arcs: true, Probing: true, VariableSpindle: true,
	Homing: true, Overrides: false, StatusReports: true, RealtimeCommands: true,
	SoftLimits: true, HardLimits: true,
})

var g2Caps = firmware.NewCapRegistry(types.DialectG2Core, types.CapabilityFlags{
	MaxAxes: 6, CoordSystems: 9, Arcs: true, Probing: true, ProbeAway: true,
	VariableSpindle: true, Homing: true, Overrides: true, StatusReports: true,
	RealtimeCommands: true, SoftLimits: true, HardLimits: true, DoorInterlock: true,
})

func (a adapter) Capabilities(v types.Version) types.CapabilityFlags {
	if a.dialect == types.DialectG2Core {
		return g2Caps.Resolve(v)
	}
	return tinygCaps.Resolve(v)
}

// DetectWelcome matches g2core/TinyG's JSON boot footer, e.g.
// {"r":{"fb":100.26,"fv":0.99,...}}. Both dialects' banners are JSON;
// detection distinguishes them by the "fb" (firmware build) magnitude:
// g2core builds are >= 100, TinyG builds are < 100.
func (a adapter) DetectWelcome(line string) (types.Version, bool) {
	m, ok := decodeObject(line)
	if !ok {
		return types.Version{}, false
	}
	r, ok := m["r"].(map[string]any)
	if !ok {
		return types.Version{}, false
	}
	fv, hasFV := r["fv"]
	if !hasFV {
		return types.Version{}, false
	}
	fb := toFloat(r["fb"])
	isG2 := fb >= 100
	if isG2 != (a.dialect == types.DialectG2Core) {
		return types.Version{}, false
	}
	return versionFromFloat(toFloat(fv)), true
}

func versionFromFloat(f float64) types.Version {
	major := int(f)
	minorFrac := f - float64(major)
	minor := int(minorFrac*100 + 0.5)
	return types.Version{Major: major, Minor: minor}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

// decodeObject parses a JSON line into a map[string]any using
// andreyvit/tinyjson's lazy Raw decoder.
func decodeObject(line string) (map[string]any, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}
	r := tinyjson.Raw([]byte(line))
	val := r.Value()
	m, ok := val.(map[string]any)
	return m, ok
}

// Classify implements spec.md §4.3's TinyG/g2core policy: JSON records
// classified by top-level key ("r" response, "sr" status report, "qr"
// queue report, "f" footer carrying the status code).
func Classify(line string) types.Record {
	m, ok := decodeObject(line)
	if !ok {
		return types.Record{Kind: types.RecUnknown, Raw: line}
	}

	rec := types.Record{Raw: line}
	if qr, ok := m["qr"]; ok {
		rec.HasQueueReport = true
		rec.QueueReport = int(toFloat(qr))
	}

	switch {
	case m["sr"] != nil:
		rec.Kind = types.RecStatus
		rec.Status = parseStatusReport(m["sr"].(map[string]any))
		return rec

	case m["r"] != nil:
		return classifyResponse(m, rec)

	default:
		if rec.HasQueueReport {
			// A bare {"qr":N} record carries no ack/status semantics of
			// its own; treat as Unknown but preserve the queue report.
			rec.Kind = types.RecUnknown
			return rec
		}
		rec.Kind = types.RecUnknown
		return rec
	}
}

func (adapter) Classify(line string) types.Record { return Classify(line) }

// classifyResponse inspects the "f" (footer) array's status code
// ([category, code, message?, duration?] in g2core's convention) to
// distinguish Ack from Err, and "sr" nested under "r" from a plain Ack.
func classifyResponse(m map[string]any, rec types.Record) types.Record {
	r, _ := m["r"].(map[string]any)

	if sr, ok := r["sr"].(map[string]any); ok {
		rec.Kind = types.RecStatus
		rec.Status = parseStatusReport(sr)
		return rec
	}

	footer, _ := m["f"].([]any)
	statusCode := 0
	if len(footer) >= 2 {
		statusCode = int(toFloat(footer[1]))
	}
	if statusCode == 0 {
		rec.Kind = types.RecAck
		return rec
	}
	rec.Kind = types.RecErr
	rec.ErrCode = statusCode
	return rec
}

func parseStatusReport(sr map[string]any) types.StatusUpdate {
	var upd types.StatusUpdate
	axisKeys := []string{"x", "y", "z", "a", "b", "c"}
	for i, k := range axisKeys {
		if v, ok := sr["pos"+k]; ok {
			upd.HasMachinePos = true
			upd.MachinePos[i] = toFloat(v)
			upd.Axes = i + 1
		}
	}
	if v, ok := sr["vel"]; ok {
		upd.HasFeedSpindle = true
		upd.FeedActual = toFloat(v)
	}
	if v, ok := sr["stat"]; ok {
		upd.HasState = true
		upd.Controller = stateFromCode(int(toFloat(v)))
	}
	if v, ok := sr["coor"]; ok {
		upd.HasWCS = true
		upd.ActiveWCS = wcsFromCode(int(toFloat(v)))
	}
	return upd
}

// stateFromCode maps g2core/TinyG's numeric "stat" field to the coarse
// Controller State model.
func stateFromCode(c int) types.ControllerState {
	switch c {
	case 0:
		return types.Idle // initializing, closest coarse equivalent
	case 1:
		return types.Alarm // reset
	case 2:
		return types.Idle
	case 3:
		return types.Idle
	case 4:
		return types.Alarm
	case 5:
		return types.Run
	case 6:
		return types.Hold
	case 7:
		return types.Idle // program stop
	case 8:
		return types.Idle // program end
	case 9:
		return types.Home
	default:
		return types.Idle
	}
}

func wcsFromCode(c int) string {
	codes := []string{"G54", "G55", "G56", "G57", "G58", "G59"}
	if c >= 1 && c <= len(codes) {
		return codes[c-1]
	}
	return "G54"
}

func (adapter) Formatter() firmware.Formatter {
	return firmware.Formatter{
		Jog: func(axis string, dist, feed float64) string {
			return fmt.Sprintf(`{"gc":"G91G21%s%gF%g"}`, axis, dist, feed)
		},
		Home: func(axes []string) string {
			if len(axes) == 0 {
				return `{"gc":"G28.2"}`
			}
			return fmt.Sprintf(`{"gc":"G28.2 %s0"}`, strings.Join(axes, "0 "))
		},
		Probe: func(axis string, feed, dist float64) string {
			return fmt.Sprintf(`{"gc":"G38.2 %s%g F%g"}`, axis, dist, feed)
		},
		SetWorkZero: func(axes []string) string {
			if len(axes) == 0 {
				return `{"gc":"G28.3 X0 Y0 Z0"}`
			}
			var sb strings.Builder
			sb.WriteString(`{"gc":"G28.3`)
			for _, a := range axes {
				fmt.Fprintf(&sb, " %s0", a)
			}
			sb.WriteString(`"}`)
			return sb.String()
		},
		SelectWCS: func(n int) string { return fmt.Sprintf(`{"gc":"G5%d"}`, 3+n) },
		ReadSettings: func() string { return `{"sys":""}` },
		WriteSetting: func(key, value string) string {
			return fmt.Sprintf(`{%q:%s}`, key, value)
		},
		Dwell: func(ms int) string { return fmt.Sprintf(`{"gc":"G4 P%g"}`, float64(ms)/1000) },
		Spindle: func(mode string, rpm float64) string {
			switch strings.ToLower(mode) {
			case "m3":
				return fmt.Sprintf(`{"gc":"M3 S%g"}`, rpm)
			case "m4":
				return fmt.Sprintf(`{"gc":"M4 S%g"}`, rpm)
			default:
				return `{"gc":"M5"}`
			}
		},
		Coolant: func(mode string) string { return fmt.Sprintf(`{"gc":%q}`, strings.ToUpper(mode)) },
	}
}
