package types

import "time"

// StateTransitionEvent is the Bus payload published whenever the coarse
// Controller State changes (spec.md §4.7 "Observers subscribe to
// transitions").
type StateTransitionEvent struct {
	From, To ControllerState
	Snapshot MachineState
	At       time.Time
}

// CommandEvent is the Bus payload published on each command lifecycle
// transition (spec.md §4.11 "per-command lifecycle events").
type CommandEvent struct {
	ID     uint64
	Status Status
	Code   string
	At     time.Time
}

// AlarmEvent is published once per Alarm transition, carrying the code
// that drove all in-flight/queued commands to Failed.
type AlarmEvent struct {
	Code int
	At   time.Time
}

// WelcomeEvent is published once the firmware's Welcome banner has been
// parsed and an adapter selected.
type WelcomeEvent struct {
	Descriptor FirmwareDescriptor
	At         time.Time
}

// StatusSnapshotEvent is published at the poll rate with the latest
// merged Machine State, independent of whether the coarse state changed.
type StatusSnapshotEvent struct {
	Snapshot MachineState
	At       time.Time
}
