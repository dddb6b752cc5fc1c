// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer-queue scheduler backing api.Scheduler: a container/heap min-heap
// of deadlines plus one background goroutine that sleeps until the next
// deadline or a Schedule/Cancel wakes it early. Grounded on the package's
// own scheduler sketch (a heap-based timerQ and a notify/stop channel
// pair); completed here since the original left run's body and taskHeap
// elided, and dropped the SSE2 prefetch hint it never actually wired
// through a working unsafe.Pointer argument.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/ipcchan/api"
)

type timerTask struct {
	deadline int64 // nanoseconds, Scheduler.Now() domain
	fn       func()
	index    int
	canceled bool
	done     chan struct{}
	err      error
}

// Cancel marks the task canceled; if it already fired this is a no-op.
func (t *timerTask) Cancel() error {
	schedMu.Lock()
	if t.done == nil {
		schedMu.Unlock()
		return nil
	}
	select {
	case <-t.done:
		schedMu.Unlock()
		return nil
	default:
	}
	t.canceled = true
	t.err = errCanceled
	close(t.done)
	schedMu.Unlock()
	return nil
}

func (t *timerTask) Done() <-chan struct{} { return t.done }
func (t *timerTask) Err() error            { return t.err }

// schedMu guards task.canceled/done across the scheduler's own run loop
// and a caller racing Cancel against firing; one mutex shared by all
// Scheduler instances keeps timerTask small and allocation-free.
var schedMu sync.Mutex

var errCanceled = &cancelError{}

type cancelError struct{}

func (*cancelError) Error() string { return "concurrency: scheduled task canceled" }

type taskHeap []*timerTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)         { t := x.(*timerTask); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler is a single-goroutine timer queue implementing api.Scheduler.
type Scheduler struct {
	mu     sync.Mutex
	timerQ taskHeap
	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// NewScheduler starts the background timer goroutine and returns a ready
// Scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

// schedEpoch anchors Now to the monotonic clock reading taken at startup.
var schedEpoch = time.Now()

// Now returns monotonic time in nanoseconds, the same clock Schedule's
// delayNanos is measured against.
func (s *Scheduler) Now() int64 { return int64(time.Since(schedEpoch)) }

// Schedule runs fn after delayNanos on the scheduler's own goroutine.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	t := &timerTask{deadline: s.Now() + delayNanos, fn: fn, done: make(chan struct{})}

	s.mu.Lock()
	heap.Push(&s.timerQ, t)
	s.mu.Unlock()

	s.wake()
	return t, nil
}

// Cancel aborts a pending task if it has not already fired.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	return c.Cancel()
}

var _ api.Scheduler = (*Scheduler)(nil)

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close stops the background goroutine. Pending tasks never fire.
func (s *Scheduler) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}

		next := s.timerQ[0]
		delay := time.Duration(next.deadline - s.Now())
		s.mu.Unlock()

		if delay <= 0 {
			s.fireDue()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		select {
		case <-timer.C:
			s.fireDue()
		case <-s.notify:
			// queue changed (new earlier deadline, or a cancellation); loop
			// to recompute the wait.
		case <-s.stop:
			return
		}
	}
}

// fireDue pops and runs every task whose deadline has passed.
func (s *Scheduler) fireDue() {
	now := s.Now()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 || s.timerQ[0].deadline > now {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.timerQ).(*timerTask)
		s.mu.Unlock()

		schedMu.Lock()
		if t.canceled {
			schedMu.Unlock()
			continue
		}
		close(t.done)
		schedMu.Unlock()

		t.fn()
	}
}
