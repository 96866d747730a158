package session

import (
	"testing"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/types"
)

func TestStateHolderStartsDisconnected(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	h := newStateHolder(conn)

	if got := h.Snapshot().Controller; got != types.Disconnected {
		t.Fatalf("Controller = %v, want Disconnected", got)
	}
}

func TestStateHolderTransitionPublishesOnChange(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	h := newStateHolder(conn)

	sub := conn.Subscribe(topicState)
	defer sub.Unsubscribe()

	h.Transition(types.Idle, 0)

	msg := <-sub.Channel()
	ev := msg.Payload.(types.StateTransitionEvent)
	if ev.From != types.Disconnected || ev.To != types.Idle {
		t.Fatalf("ev = %+v, want Disconnected->Idle", ev)
	}
	if h.Snapshot().Controller != types.Idle {
		t.Fatalf("Snapshot.Controller = %v, want Idle", h.Snapshot().Controller)
	}
}

func TestStateHolderTransitionToSameStateDoesNotPublish(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	h := newStateHolder(conn)
	h.Transition(types.Idle, 0)

	sub := conn.Subscribe(topicState)
	defer sub.Unsubscribe()
	<-sub.Channel() // retained Disconnected->Idle from the setup transition

	h.Transition(types.Idle, 0) // no-op: already Idle

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected publish on a same-state transition: %+v", msg.Payload)
	default:
	}
}

func TestStateHolderAlarmSetsAlarmCode(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	h := newStateHolder(conn)
	h.Transition(types.Idle, 0)

	h.Transition(types.Alarm, 9)

	snap := h.Snapshot()
	if snap.Controller != types.Alarm || snap.AlarmCode != 9 {
		t.Fatalf("snap = %+v, want Alarm/9", snap)
	}
}

func TestStateHolderApplyMergesStatusAndPublishesOnCoarseChange(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	h := newStateHolder(conn)

	sub := conn.Subscribe(topicState)
	defer sub.Unsubscribe()

	upd := types.StatusUpdate{
		HasState:      true,
		Controller:    types.Run,
		HasMachinePos: true,
		Axes:          3,
		MachinePos:    [6]float64{1, 2, 3, 0, 0, 0},
	}
	h.Apply(upd)

	ev := (<-sub.Channel()).Payload.(types.StateTransitionEvent)
	if ev.To != types.Run {
		t.Fatalf("To = %v, want Run", ev.To)
	}
	want := [6]float64{1, 2, 3, 0, 0, 0}
	if got := h.Snapshot().MachinePos; got != want {
		t.Fatalf("MachinePos = %v, want %v", got, want)
	}
}

func TestStateHolderApplyWithoutStateChangeDoesNotPublishTransition(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	h := newStateHolder(conn)
	h.Transition(types.Idle, 0)

	sub := conn.Subscribe(topicState)
	defer sub.Unsubscribe()
	<-sub.Channel() // retained Disconnected->Idle from the setup transition

	h.Apply(types.StatusUpdate{HasMachinePos: true, Axes: 3, MachinePos: [6]float64{5, 5, 5, 0, 0, 0}})

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected state transition publish: %+v", msg.Payload)
	default:
	}
	want := [6]float64{5, 5, 5, 0, 0, 0}
	if h.Snapshot().MachinePos != want {
		t.Fatal("position merge should still apply even without a coarse state change")
	}
}
