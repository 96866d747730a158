package session

import (
	"sync/atomic"
	"time"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/types"
)

// stateHolder is the Controller State Machine (spec.md §4.7). It is
// written by the Session during the connect handshake (Connecting, Idle,
// or Disconnected on a failed handshake) and by the Dispatcher once it
// runs, so there is one writer at a time; readers (Facade, tests, the CLI)
// obtain immutable snapshots via Snapshot, never a pointer into live
// state — the same RCU-by-atomic.Value shape the teacher uses for curCfg in
// services/bridge/bridge.go.
type stateHolder struct {
	current atomic.Value // types.MachineState
	conn    *bus.Connection
}

func newStateHolder(conn *bus.Connection) *stateHolder {
	h := &stateHolder{conn: conn}
	h.current.Store(types.MachineState{Controller: types.Disconnected})
	return h
}

// Snapshot returns the current Machine State. Safe for concurrent callers.
func (h *stateHolder) Snapshot() types.MachineState {
	return h.current.Load().(types.MachineState)
}

// Apply merges a Status update into the held state (spec.md §4.4 rule 2:
// "merge into Machine State, emit a state-changed event if the coarse
// Controller State changes"). Called only by the Dispatcher.
func (h *stateHolder) Apply(upd types.StatusUpdate) {
	prev := h.Snapshot()
	next := prev.Merge(upd)
	h.current.Store(next)

	h.conn.Publish(&bus.Message{
		Topic:    topicSnapshot,
		Payload:  types.StatusSnapshotEvent{Snapshot: next, At: time.Now()},
		Retained: true,
	})

	if upd.HasState && next.Controller != prev.Controller {
		h.publishTransition(prev.Controller, next.Controller, next)
	}
}

// Transition forces a coarse state change outside of a Status merge
// (Welcome -> Idle, Alarm{code}, transport close -> Disconnected).
// Called by the Session's connect sequence and by the Dispatcher.
func (h *stateHolder) Transition(to types.ControllerState, alarmCode int) {
	prev := h.Snapshot()
	next := prev
	next.Controller = to
	next.AlarmCode = alarmCode
	h.current.Store(next)
	if to != prev.Controller {
		h.publishTransition(prev.Controller, to, next)
	}
}

func (h *stateHolder) publishTransition(from, to types.ControllerState, snap types.MachineState) {
	h.conn.Publish(&bus.Message{
		Topic: topicState,
		Payload: types.StateTransitionEvent{
			From: from, To: to, Snapshot: snap, At: time.Now(),
		},
		Retained: true,
	})
}
