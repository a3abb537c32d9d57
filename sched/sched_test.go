package sched

import (
	"testing"

	"kcore/errors"
)

func resetRunQueue() {
	runQueue.mu.Lock()
	runQueue.tasks = nil
	runQueue.mu.Unlock()
	preemptCount.Store(0)
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Runnable: "runnable", Blocked: "blocked", Stopped: "stopped", Exited: "exited"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestPreemptGuardNesting(t *testing.T) {
	resetRunQueue()
	if PreemptDisabled() {
		t.Fatal("preemption should not be disabled initially")
	}
	g1 := NewPreemptGuard()
	g2 := NewPreemptGuard()
	if !PreemptDisabled() {
		t.Fatal("preemption should be disabled under nested guards")
	}
	g2.Release()
	if !PreemptDisabled() {
		t.Fatal("preemption should still be disabled after releasing inner guard")
	}
	g1.Release()
	if PreemptDisabled() {
		t.Fatal("preemption should be enabled after releasing outer guard")
	}
}

func TestPreemptGuardReleaseIdempotent(t *testing.T) {
	resetRunQueue()
	g := NewPreemptGuard()
	g.Release()
	g.Release()
	if PreemptDisabled() {
		t.Fatal("double release should not under-decrement past zero effect")
	}
}

func TestSchedPanicsWithPreemptionDisabled(t *testing.T) {
	resetRunQueue()
	g := NewPreemptGuard()
	defer g.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Sched to panic with preemption disabled")
		}
	}()
	Sched()
}

func TestEnqueueDequeueIdempotent(t *testing.T) {
	resetRunQueue()
	e := NewEntity(1)
	Enqueue(e)
	Enqueue(e)
	runQueue.mu.Lock()
	n := len(runQueue.tasks)
	runQueue.mu.Unlock()
	if n != 1 {
		t.Fatalf("Enqueue should be idempotent, got %d entries", n)
	}
	Dequeue(e)
	runQueue.mu.Lock()
	n = len(runQueue.tasks)
	runQueue.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected empty run queue after Dequeue, got %d", n)
	}
}

func TestMarkSleepAndWakeup(t *testing.T) {
	resetRunQueue()
	e := NewEntity(2)
	Enqueue(e)

	MarkSleep(e, true)
	if e.State() != Blocked {
		t.Fatalf("expected Blocked after MarkSleep, got %v", e.State())
	}

	if err := Wakeup(e); err != nil {
		t.Fatalf("Wakeup on blocked task failed: %v", err)
	}
	if e.State() != Runnable {
		t.Fatalf("expected Runnable after Wakeup, got %v", e.State())
	}
}

func TestWakeupNotBlockedFails(t *testing.T) {
	resetRunQueue()
	e := NewEntity(3)
	if err := Wakeup(e); !errors.Is(err, errors.ErrNotBlocked) {
		t.Fatalf("expected ErrNotBlocked, got %v", err)
	}
}

func TestStopAndWakeupStop(t *testing.T) {
	resetRunQueue()
	e := NewEntity(4)
	Enqueue(e)
	Stop(e)
	if e.State() != Stopped {
		t.Fatalf("expected Stopped, got %v", e.State())
	}
	if err := WakeupStop(e); err != nil {
		t.Fatalf("WakeupStop failed: %v", err)
	}
	if e.State() != Runnable {
		t.Fatalf("expected Runnable after WakeupStop, got %v", e.State())
	}
}

func TestExitRemovesFromRunQueue(t *testing.T) {
	resetRunQueue()
	e := NewEntity(5)
	Enqueue(e)
	Exit(e)
	if e.State() != Exited {
		t.Fatalf("expected Exited, got %v", e.State())
	}
	runQueue.mu.Lock()
	n := len(runQueue.tasks)
	runQueue.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected task removed from run queue on Exit, got %d entries", n)
	}
}

func TestSchedRotatesRunnableTask(t *testing.T) {
	resetRunQueue()
	e1 := NewEntity(6)
	e2 := NewEntity(7)
	Enqueue(e1)
	Enqueue(e2)

	Sched()

	runQueue.mu.Lock()
	defer runQueue.mu.Unlock()
	if len(runQueue.tasks) != 2 {
		t.Fatalf("expected both tasks to remain runnable, got %d", len(runQueue.tasks))
	}
	if runQueue.tasks[len(runQueue.tasks)-1] != e1 {
		t.Fatal("expected picked task rotated to the back of the run queue")
	}
}
