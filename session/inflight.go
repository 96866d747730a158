package session

import (
	"container/list"

	"github.com/thawkins/gcodekit4-sub000/types"
)

// inflight is the ordered FIFO collection of Sent commands (spec.md §3's
// In-Flight Window). Owned exclusively by the Dispatcher; the invariant
// sum(len) == pendingChars is maintained by construction: PushBack is the
// only insertion point and always pairs with pendingChars += cmd.Len.
type inflight struct {
	l *list.List // *types.Command elements, oldest at Front
}

func newInflight() *inflight { return &inflight{l: list.New()} }

func (f *inflight) PushBack(c *types.Command) { f.l.PushBack(c) }

// PopFront removes and returns the oldest Sent command, matching the next
// Ack/Err positionally (spec.md §4.4 rule 1). Returns nil if empty.
func (f *inflight) PopFront() *types.Command {
	e := f.l.Front()
	if e == nil {
		return nil
	}
	f.l.Remove(e)
	return e.Value.(*types.Command)
}

func (f *inflight) Len() int { return f.l.Len() }

// DrainAll removes and returns every in-flight command, oldest first, for
// Alarm/Welcome/Disconnected resets (spec.md §4.4 rules 3-4).
func (f *inflight) DrainAll() []*types.Command {
	out := make([]*types.Command, 0, f.l.Len())
	for e := f.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*types.Command))
	}
	f.l.Init()
	return out
}

// RemoveByID removes and returns the command with the given ID wherever
// it sits in the window, for the Watchdog's out-of-FIFO-order timeout
// firing (a large command ahead of it in line can still be waiting on
// credit when a later, smaller one's deadline expires first). Returns
// nil if no such command is present (already Acked/Failed/Done).
func (f *inflight) RemoveByID(id uint64) *types.Command {
	for e := f.l.Front(); e != nil; e = e.Next() {
		if c := e.Value.(*types.Command); c.ID == id {
			f.l.Remove(e)
			return c
		}
	}
	return nil
}

// Oldest returns the front command without removing it. The Watchdog does
// not use it; it keeps its own heap of deadlines.
func (f *inflight) Oldest() *types.Command {
	e := f.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*types.Command)
}

// All returns every in-flight command, oldest first, without removing
// them. The Watchdog does not scan the window through it; out-of-order
// timeouts reach the window through RemoveByID.
func (f *inflight) All() []*types.Command {
	out := make([]*types.Command, 0, f.l.Len())
	for e := f.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*types.Command))
	}
	return out
}
