// Package sched runs callbacks at a point in time on an injectable clock.
//
// Pending tasks live in a min-heap ordered by deadline, with ties broken by
// scheduling order. Run drives the heap off the clock; tests instead step a
// fake clock and call RunDue directly.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ID identifies a scheduled task. The zero ID is never issued.
type ID uint64

type task struct {
	id    ID
	at    time.Time
	fn    func()
	index int
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is a delayed-task queue.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	tasks  taskHeap
	byID   map[ID]*task
	nextID ID
	wake   chan struct{}
}

// New creates a Scheduler. A nil clock uses the wall clock.
func New(clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:  clk,
		logger: logger,
		byID:   make(map[ID]*task),
		wake:   make(chan struct{}, 1),
	}
}

// Clock returns the clock the scheduler reads deadlines from.
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// After schedules fn to run once d has elapsed.
func (s *Scheduler) After(d time.Duration, fn func()) ID {
	return s.At(s.clock.Now().Add(d), fn)
}

// At schedules fn to run at t. A t in the past runs on the next pass.
func (s *Scheduler) At(t time.Time, fn func()) ID {
	s.mu.Lock()
	s.nextID++
	tk := &task{id: s.nextID, at: t, fn: fn}
	heap.Push(&s.tasks, tk)
	s.byID[tk.id] = tk
	s.mu.Unlock()

	s.notify()
	return tk.id
}

// Cancel removes a pending task. It reports false if the task already ran
// or was cancelled.
func (s *Scheduler) Cancel(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.tasks, tk.index)
	delete(s.byID, id)
	return true
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Next returns the deadline of the earliest pending task.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return time.Time{}, false
	}
	return s.tasks[0].at, true
}

// RunDue runs every task whose deadline has passed, in deadline order, and
// returns how many ran. Tasks run outside the scheduler lock and may
// schedule or cancel other tasks.
func (s *Scheduler) RunDue() int {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*task
	for len(s.tasks) > 0 && !s.tasks[0].at.After(now) {
		tk := heap.Pop(&s.tasks).(*task)
		delete(s.byID, tk.id)
		due = append(due, tk)
	}
	s.mu.Unlock()

	for _, tk := range due {
		s.safeCall(tk)
	}
	return len(due)
}

// Run executes tasks as they come due until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.RunDue()

		var timerC <-chan time.Time
		var timer clock.Timer
		if next, ok := s.Next(); ok {
			d := next.Sub(s.clock.Now())
			if d <= 0 {
				continue
			}
			timer = s.clock.NewTimer(d)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safeCall(tk *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.Uint64("task_id", uint64(tk.id)),
				zap.Any("panic", r),
			)
		}
	}()
	tk.fn()
}
