package types

// ControllerState is the coarse connection/run state, derived exclusively
// from Status records (and transport/alarm events) by the Dispatcher.
type ControllerState int

const (
	Disconnected ControllerState = iota
	Connecting
	Idle
	Run
	Hold
	Jog
	Alarm
	Door
	Check
	Home
	Sleep
)

func (s ControllerState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Run:
		return "run"
	case Hold:
		return "hold"
	case Jog:
		return "jog"
	case Alarm:
		return "alarm"
	case Door:
		return "door"
	case Check:
		return "check"
	case Home:
		return "home"
	case Sleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// PinStates mirrors the `Pn:` status field: which limit/probe/door pins
// are currently asserted.
type PinStates struct {
	Limit [6]bool // per-axis limit switches, indexed like Axes
	Probe bool
	Door  bool
}

// Overrides carries the three override percentages the firmware reports
// back in the `Ov:` status field. Intended values (what the Override
// Manager is converging toward) live separately in the Override Manager.
type Overrides struct {
	Feed    int
	Rapid   int
	Spindle int
}

// ModalState is a coarse snapshot of the G-code modal groups a firmware
// reports (units, plane, distance mode, active WCS, etc). Firmware
// adapters populate only the subset their dialect exposes.
type ModalState struct {
	Units        string // "G20" | "G21"
	Plane        string // "G17" | "G18" | "G19"
	DistanceMode string // "G90" | "G91"
	ActiveWCS    string // "G54".."G59.3"
	SpindleMode  string // "M3" | "M4" | "M5"
	CoolantMode  string // "M7" | "M8" | "M9"
}

// MachineState is the full position/status model, mutated only by the
// Dispatcher on Status records and merged in arrival order (never
// reordered or rolled back by an out-of-phase report).
type MachineState struct {
	Axes int // number of active axes reported, up to 6

	MachinePos [6]float64
	WorkOffset [6]float64 // WCO: work position = machine - offset

	FeedActual    float64
	SpindleActual float64

	Pins      PinStates
	ActiveWCS string // "G54".."G59.3", mirrors ModalState.ActiveWCS
	Overrides Overrides
	Modal     ModalState

	Controller ControllerState
	AlarmCode  int // valid only when Controller == Alarm
}

// WorkPos returns work position = machine position - active WCS offset,
// for the currently active number of axes.
func (m MachineState) WorkPos() [6]float64 {
	var wp [6]float64
	for i := 0; i < 6; i++ {
		wp[i] = m.MachinePos[i] - m.WorkOffset[i]
	}
	return wp
}

// Merge applies a partial Status update on top of m, leaving fields the
// update did not report untouched. upd.Axes of 0 means "field not
// reported"; Merge only overwrites axis slots the update actually
// carried, matching the Status record's variable axis count.
func (m MachineState) Merge(upd StatusUpdate) MachineState {
	out := m
	if upd.HasMachinePos {
		for i := 0; i < upd.Axes && i < 6; i++ {
			out.MachinePos[i] = upd.MachinePos[i]
		}
		if upd.Axes > out.Axes {
			out.Axes = upd.Axes
		}
	}
	if upd.HasWorkOffset {
		for i := 0; i < upd.Axes && i < 6; i++ {
			out.WorkOffset[i] = upd.WorkOffset[i]
		}
	}
	if upd.HasFeedSpindle {
		out.FeedActual = upd.FeedActual
		out.SpindleActual = upd.SpindleActual
	}
	if upd.HasPins {
		out.Pins = upd.Pins
	}
	if upd.HasWCS {
		out.ActiveWCS = upd.ActiveWCS
		out.Modal.ActiveWCS = upd.ActiveWCS
	}
	if upd.HasOverrides {
		out.Overrides = upd.Overrides
	}
	if upd.HasState {
		out.Controller = upd.Controller
		out.AlarmCode = upd.AlarmCode
	}
	return out
}

// StatusUpdate is the parsed, partial form of one `<...>` (or TinyG `sr`)
// status record: only the fields the record actually carried are marked
// present, so Merge never clobbers a field with a zero value the peer
// simply didn't report this round.
type StatusUpdate struct {
	Axes int

	HasMachinePos bool
	MachinePos    [6]float64

	HasWorkOffset bool
	WorkOffset    [6]float64

	HasFeedSpindle bool
	FeedActual     float64
	SpindleActual  float64

	HasPins bool
	Pins    PinStates

	HasWCS    bool
	ActiveWCS string

	HasOverrides bool
	Overrides    Overrides

	HasState   bool
	Controller ControllerState
	AlarmCode  int
}
