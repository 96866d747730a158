package session

import (
	"testing"

	"github.com/thawkins/gcodekit4-sub000/types"
)

func TestInflightPushBackPopFrontIsFIFO(t *testing.T) {
	f := newInflight()
	a := types.NewCommand(1, types.OriginUser, "G1 X1")
	b := types.NewCommand(2, types.OriginUser, "G1 X2")
	f.PushBack(a)
	f.PushBack(b)

	if got := f.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	if got := f.PopFront(); got != a {
		t.Fatalf("PopFront = %v, want a", got)
	}
	if got := f.PopFront(); got != b {
		t.Fatalf("PopFront = %v, want b", got)
	}
	if got := f.PopFront(); got != nil {
		t.Fatalf("PopFront on empty = %v, want nil", got)
	}
}

func TestInflightDrainAllEmptiesAndReturnsOldestFirst(t *testing.T) {
	f := newInflight()
	a := types.NewCommand(1, types.OriginUser, "G1 X1")
	b := types.NewCommand(2, types.OriginUser, "G1 X2")
	f.PushBack(a)
	f.PushBack(b)

	drained := f.DrainAll()
	if len(drained) != 2 || drained[0] != a || drained[1] != b {
		t.Fatalf("drained = %v, want [a b]", drained)
	}
	if f.Len() != 0 {
		t.Fatalf("Len after DrainAll = %d, want 0", f.Len())
	}
	if f.Oldest() != nil {
		t.Fatal("Oldest after DrainAll should be nil")
	}
}

func TestInflightRemoveByIDFindsMiddleEntry(t *testing.T) {
	f := newInflight()
	a := types.NewCommand(1, types.OriginUser, "a")
	b := types.NewCommand(2, types.OriginUser, "b")
	c := types.NewCommand(3, types.OriginUser, "c")
	f.PushBack(a)
	f.PushBack(b)
	f.PushBack(c)

	got := f.RemoveByID(2)
	if got != b {
		t.Fatalf("RemoveByID(2) = %v, want b", got)
	}
	if f.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.Len())
	}

	// Remaining order is preserved: a, then c.
	if f.PopFront() != a {
		t.Fatal("expected a to remain the front after removing b")
	}
	if f.PopFront() != c {
		t.Fatal("expected c to remain after a")
	}
}

func TestInflightRemoveByIDMissingReturnsNil(t *testing.T) {
	f := newInflight()
	f.PushBack(types.NewCommand(1, types.OriginUser, "a"))

	if got := f.RemoveByID(99); got != nil {
		t.Fatalf("RemoveByID(99) = %v, want nil", got)
	}
	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (untouched)", f.Len())
	}
}

func TestInflightOldestAndAllDoNotRemove(t *testing.T) {
	f := newInflight()
	a := types.NewCommand(1, types.OriginUser, "a")
	b := types.NewCommand(2, types.OriginUser, "b")
	f.PushBack(a)
	f.PushBack(b)

	if got := f.Oldest(); got != a {
		t.Fatalf("Oldest = %v, want a", got)
	}
	all := f.All()
	if len(all) != 2 || all[0] != a || all[1] != b {
		t.Fatalf("All = %v, want [a b]", all)
	}
	if f.Len() != 2 {
		t.Fatal("Oldest/All must not remove entries")
	}
}
