package session

import (
	"github.com/thawkins/gcodekit4-sub000/errcode"
	"github.com/thawkins/gcodekit4-sub000/types"
)

// queue is the bounded, FIFO work queue between the Facade and the
// Streamer (spec.md §4.5's "bounded work queue", default capacity 1024).
// Commands leave in enqueue order (spec.md §5's FIFO end-to-end
// guarantee).
type queue struct {
	ch chan *types.Command
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &queue{ch: make(chan *types.Command, capacity)}
}

// TryEnqueue enqueues without blocking, for UI-originated commands that
// should fail fast with QueueFull rather than stall the caller (spec.md
// §4.5's "returns a QueueFull failure" mode).
func (q *queue) TryEnqueue(c *types.Command) error {
	select {
	case q.ch <- c:
		return nil
	default:
		return errcode.New("queue.enqueue", errcode.QueueFull, "queue at capacity")
	}
}

// Enqueue blocks the caller until space is available or done fires, for
// streaming a file (spec.md §4.5's default blocking mode).
func (q *queue) Enqueue(c *types.Command, done <-chan struct{}) error {
	select {
	case q.ch <- c:
		return nil
	case <-done:
		return errcode.New("queue.enqueue", errcode.Cancelled, "session closed")
	}
}

// Chan exposes the receive side for the Streamer's select loop.
func (q *queue) Chan() <-chan *types.Command { return q.ch }

// DrainAll empties the queue and returns the commands that were left in
// it, oldest first. It does not mark them failed (code and msg are unused);
// the caller does that.
func (q *queue) DrainAll(code errcode.Code, msg string) []*types.Command {
	var out []*types.Command
	for {
		select {
		case c := <-q.ch:
			out = append(out, c)
		default:
			return out
		}
	}
}
