package types

// Dialect names the firmware wire convention a Firmware Adapter speaks.
type Dialect string

const (
	DialectGRBL        Dialect = "grbl"
	DialectTinyG       Dialect = "tinyg"
	DialectG2Core      Dialect = "g2core"
	DialectSmoothieware Dialect = "smoothieware"
	DialectFluidNC     Dialect = "fluidnc"
)

// Version is major.minor.patch; Patch is optional (0 when unset by the
// Welcome banner, e.g. "Grbl 1.1h" carries no patch digit).
type Version struct {
	Major, Minor, Patch int
}

// CapabilityFlags describes what a connected firmware version supports.
// Populated by the Capability Registry at connect time; immutable for the
// life of a session.
type CapabilityFlags struct {
	MaxAxes          int
	CoordSystems     int
	Arcs             bool
	Probing          bool
	ProbeAway        bool
	VariableSpindle  bool
	Homing           bool
	Overrides        bool
	StatusReports    bool
	RealtimeCommands bool
	Macros           bool
	ConditionalBlocks bool
	SoftLimits       bool
	HardLimits       bool
	DoorInterlock    bool
}

// Supports reports whether a named feature is enabled, for Facade-level
// NotSupported checks raised before a command is queued.
func (c CapabilityFlags) Supports(feature string) bool {
	switch feature {
	case "arcs":
		return c.Arcs
	case "probing":
		return c.Probing
	case "probe_away":
		return c.ProbeAway
	case "variable_spindle":
		return c.VariableSpindle
	case "homing":
		return c.Homing
	case "overrides":
		return c.Overrides
	case "status_reports":
		return c.StatusReports
	case "realtime_commands":
		return c.RealtimeCommands
	case "macros":
		return c.Macros
	case "conditional_blocks":
		return c.ConditionalBlocks
	case "soft_limits":
		return c.SoftLimits
	case "hard_limits":
		return c.HardLimits
	case "door_interlock":
		return c.DoorInterlock
	default:
		return false
	}
}

// RealtimeByte names the single-octet real-time commands a dialect's
// table maps to concrete byte values. Not every dialect implements every
// entry (e.g. rapid overrides are GRBL-specific).
type RealtimeByte string

const (
	RTStatus       RealtimeByte = "status"
	RTFeedHold     RealtimeByte = "feed_hold"
	RTCycleStart   RealtimeByte = "cycle_start"
	RTSoftReset    RealtimeByte = "soft_reset"
	RTJogCancel    RealtimeByte = "jog_cancel"
	RTRapid25      RealtimeByte = "rapid_25"
	RTRapid50      RealtimeByte = "rapid_50"
	RTRapid100     RealtimeByte = "rapid_100"
	RTFeedPlus10   RealtimeByte = "feed_plus_10"
	RTFeedMinus10  RealtimeByte = "feed_minus_10"
	RTFeedPlus1    RealtimeByte = "feed_plus_1"
	RTFeedMinus1   RealtimeByte = "feed_minus_1"
	RTFeedReset    RealtimeByte = "feed_reset"
	RTSpindlePlus10  RealtimeByte = "spindle_plus_10"
	RTSpindleMinus10 RealtimeByte = "spindle_minus_10"
	RTSpindlePlus1   RealtimeByte = "spindle_plus_1"
	RTSpindleMinus1  RealtimeByte = "spindle_minus_1"
	RTSpindleReset   RealtimeByte = "spindle_reset"
)

// FirmwareDescriptor is the per-connection binding selected at connect
// time (by user hint or Welcome match) and held for the session's
// lifetime.
type FirmwareDescriptor struct {
	Dialect    Dialect
	Version    Version
	RxCapacity int
	RTBytes    map[RealtimeByte]byte
	Caps       CapabilityFlags
}
