package sched

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRunDueOrder(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := New(clk, zap.NewNop())

	var order []string
	s.After(300*time.Millisecond, func() { order = append(order, "c") })
	s.After(100*time.Millisecond, func() { order = append(order, "a") })
	s.After(100*time.Millisecond, func() { order = append(order, "b") })

	if n := s.RunDue(); n != 0 {
		t.Fatalf("RunDue() before deadline ran %d tasks", n)
	}

	clk.Step(100 * time.Millisecond)
	if n := s.RunDue(); n != 2 {
		t.Fatalf("RunDue() = %d, want 2", n)
	}
	clk.Step(200 * time.Millisecond)
	s.RunDue()

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestCancel(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := New(clk, zap.NewNop())

	ran := map[string]bool{}
	a := s.After(time.Second, func() { ran["a"] = true })
	s.After(time.Second, func() { ran["b"] = true })

	if !s.Cancel(a) {
		t.Fatal("Cancel() = false for pending task")
	}
	if s.Cancel(a) {
		t.Error("Cancel() = true twice")
	}

	clk.Step(time.Second)
	s.RunDue()
	if ran["a"] || !ran["b"] {
		t.Errorf("ran = %v, want only b", ran)
	}
}

func TestNext(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := New(clk, zap.NewNop())

	if _, ok := s.Next(); ok {
		t.Fatal("Next() ok on empty scheduler")
	}
	s.After(2*time.Second, func() {})
	s.After(time.Second, func() {})
	next, ok := s.Next()
	if !ok || !next.Equal(epoch.Add(time.Second)) {
		t.Errorf("Next() = %v, %v", next, ok)
	}
}

func TestTaskSchedulesTask(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := New(clk, zap.NewNop())

	ran := false
	s.After(time.Second, func() {
		s.After(0, func() { ran = true })
	})

	clk.Step(time.Second)
	s.RunDue()
	s.RunDue()
	if !ran {
		t.Error("task scheduled from a task did not run")
	}
}

func TestPanicRecovered(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := New(clk, zap.NewNop())

	ran := false
	s.After(0, func() { panic("boom") })
	s.After(0, func() { ran = true })

	if n := s.RunDue(); n != 2 {
		t.Errorf("RunDue() = %d, want 2", n)
	}
	if !ran {
		t.Error("task after a panicking task did not run")
	}
}

func TestRun(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := New(clk, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	done := make(chan struct{})
	s.After(time.Second, func() { close(done) })

	deadline := time.Now().Add(2 * time.Second)
	for !clk.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("Run never armed a timer")
		}
		time.Sleep(time.Millisecond)
	}
	clk.Step(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run after clock step")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
