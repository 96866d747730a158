package session

import (
	"container/heap"
	"sync"
	"time"
)

// wdItem is one command's outstanding deadline. The heap shape below
// mirrors the teacher's periodic-scheduler heap almost line-for-line
// (container/heap, an index field Swap keeps current, a Top() peek
// helper); the Watchdog genuinely needs it, unlike the Status Poller,
// because many commands can be Sent and awaiting Ack concurrently, each
// with its own deadline.
type wdItem struct {
	id    uint64
	due   int64 // UnixNano
	index int
}

type wdHeap []*wdItem

func (h wdHeap) Len() int           { return len(h) }
func (h wdHeap) Less(i, j int) bool { return h[i].due < h[j].due }
func (h wdHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *wdHeap) Push(x any)        { it := x.(*wdItem); it.index = len(*h); *h = append(*h, it) }
func (h *wdHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[:n-1]
	return it
}
func (h wdHeap) Top() *wdItem {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// watchdog schedules one deadline per Sent command (spec.md §5 item 4,
// SPEC_FULL.md §4.12) and reports the command ID on out when a deadline
// elapses before Cancel was called for it.
type watchdog struct {
	mu      sync.Mutex
	wake    chan struct{}
	items   map[uint64]*wdItem
	h       wdHeap
	timeout time.Duration

	out  chan<- uint64
	done <-chan struct{}
}

func newWatchdog(timeout time.Duration, out chan<- uint64, done <-chan struct{}) *watchdog {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &watchdog{
		wake:    make(chan struct{}, 1),
		items:   make(map[uint64]*wdItem),
		timeout: timeout,
		out:     out,
		done:    done,
	}
}

// SetTimeout reconfigures the deadline applied to commands scheduled from
// this point on (config/timeout); already-armed deadlines are untouched.
func (w *watchdog) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
}

// Schedule arms a deadline for id, due timeout from now (spec.md §5's
// "on Sent, schedule sent_at + command.timeout_ms").
func (w *watchdog) Schedule(id uint64) {
	w.mu.Lock()
	due := time.Now().Add(w.timeout).UnixNano()
	if it := w.items[id]; it != nil {
		it.due = due
		heap.Fix(&w.h, it.index)
	} else {
		it := &wdItem{id: id, due: due, index: -1}
		w.items[id] = it
		heap.Push(&w.h, it)
	}
	w.mu.Unlock()
	w.wakeup()
}

// Cancel disarms id's deadline (Acked/Failed/Done, or a drain). A no-op
// if id has no armed deadline.
func (w *watchdog) Cancel(id uint64) {
	w.mu.Lock()
	if it := w.items[id]; it != nil {
		heap.Remove(&w.h, it.index)
		delete(w.items, id)
	}
	w.mu.Unlock()
}

// Run is the Watchdog's loop. It exits when done fires.
func (w *watchdog) Run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := w.nextWait()
		if wait < 0 {
			select {
			case <-w.done:
				return
			case <-w.wake:
				continue
			}
		}
		if wait == 0 {
			w.fireDue()
			continue
		}

		timer.Reset(time.Duration(wait))
		select {
		case <-w.done:
			return
		case <-w.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

func (w *watchdog) fireDue() {
	w.mu.Lock()
	now := time.Now().UnixNano()
	var fired []uint64
	for {
		top := w.h.Top()
		if top == nil || top.due > now {
			break
		}
		it := heap.Pop(&w.h).(*wdItem)
		delete(w.items, it.id)
		fired = append(fired, it.id)
	}
	w.mu.Unlock()

	for _, id := range fired {
		select {
		case w.out <- id:
		case <-w.done:
			return
		}
	}
}

func (w *watchdog) nextWait() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	top := w.h.Top()
	if top == nil {
		return -1
	}
	now := time.Now().UnixNano()
	if top.due <= now {
		return 0
	}
	return top.due - now
}

func (w *watchdog) wakeup() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
