package shutdown

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker counts logical in-flight tasks (a forwarding schedule held open
// across retries counts as one task) so graceful shutdown knows when it is
// safe to close shared resources. Injected instead of process-global state.
type Tracker struct {
	mu       sync.Mutex
	active   int64
	stopping atomic.Bool
	done     chan struct{}
}

func NewTracker() *Tracker {
	return &Tracker{done: make(chan struct{})}
}

// RegisterTask marks a new in-flight task. Returns false once shutdown has
// begun; callers must not start new work after that.
func (t *Tracker) RegisterTask() bool {
	if t.stopping.Load() {
		return false
	}

	t.mu.Lock()
	t.active++
	t.mu.Unlock()
	return true
}

func (t *Tracker) ReleaseTask() {
	t.mu.Lock()
	t.active--
	if t.active < 0 {
		t.active = 0
	}
	t.mu.Unlock()
}

func (t *Tracker) Active() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// ShuttingDown reports whether Drain has been called. Long-running tasks
// check this before sleeping between retries.
func (t *Tracker) ShuttingDown() bool {
	return t.stopping.Load()
}

// Done is closed when shutdown begins, so sleeps can be interrupted with a
// select instead of polling.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Drain refuses new tasks and waits for the active count to reach zero,
// giving up after timeout. Returns true on a clean drain.
func (t *Tracker) Drain(timeout time.Duration) bool {
	if t.stopping.CompareAndSwap(false, true) {
		close(t.done)
	}

	deadline := time.Now().Add(timeout)
	for {
		if t.Active() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
