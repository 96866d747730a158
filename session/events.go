package session

import "github.com/thawkins/gcodekit4-sub000/bus"

// Bus topics carrying the cross-cutting events of spec.md §4.11 and
// SPEC_FULL.md §4.14. Retained where a late subscriber should see the
// last value immediately (state, config); not retained for events that
// only matter at the moment they happen (command lifecycle, alarms).
var (
	topicState    = bus.T("session", "state")   // retained: types.StateTransitionEvent
	topicCommand  = bus.T("session", "command") // types.CommandEvent
	topicAlarm    = bus.T("session", "alarm")   // types.AlarmEvent
	topicWelcome  = bus.T("session", "welcome") // retained: types.WelcomeEvent
	topicSnapshot = bus.T("session", "status")  // retained: types.StatusSnapshotEvent

	// topicConfigRoot carries the full, resolved types.Config (config.Publish
	// publishes it retained) that drives (re)connect decisions.
	topicConfigRoot = bus.T("config", "root")
)

func topicConfig(section string) bus.Topic { return bus.T("config", section) }
