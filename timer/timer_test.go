package timer

import (
	"sync"
	"testing"
	"time"
)

type fakeSleeper struct {
	mu       sync.Mutex
	sleeping bool
	woken    chan struct{}
}

func newFakeSleeper() *fakeSleeper {
	return &fakeSleeper{woken: make(chan struct{}, 1)}
}

func (f *fakeSleeper) MarkSleep(interruptible bool) {
	f.mu.Lock()
	f.sleeping = true
	f.mu.Unlock()
}

func (f *fakeSleeper) Wakeup() error {
	f.mu.Lock()
	f.sleeping = false
	f.mu.Unlock()
	select {
	case f.woken <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSleeper) Sched() {
	<-f.woken
}

func TestActivateOrdersByExpiry(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()

	var order []int
	t3 := New(func() { order = append(order, 3) }, 30)
	t1 := New(func() { order = append(order, 1) }, 10)
	t2 := New(func() { order = append(order, 2) }, 20)

	t3.Activate()
	t1.Activate()
	t2.Activate()

	n := RunExpired(30, TimerRunCycleThreshold)
	if n != 3 {
		t.Fatalf("RunExpired fired %d timers, want 3", n)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("timers fired out of expiry order: %v", order)
	}
}

func TestRunExpiredRespectsThreshold(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()

	ran := 0
	for i := 0; i < 5; i++ {
		New(func() { ran++ }, 1).Activate()
	}

	n := RunExpired(1, 2)
	if n != 2 || ran != 2 {
		t.Fatalf("RunExpired(threshold=2) ran %d (want 2), callbacks fired %d", n, ran)
	}

	n = RunExpired(1, 10)
	if n != 3 || ran != 5 {
		t.Fatalf("second RunExpired ran %d (want 3), total callbacks %d (want 5)", n, ran)
	}
}

func TestRunExpiredLeavesFutureTimersAlone(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()

	fired := false
	future := New(func() { fired = true }, 100)
	future.Activate()

	n := RunExpired(5, TimerRunCycleThreshold)
	if n != 0 || fired {
		t.Fatalf("future timer fired early: n=%d fired=%v", n, fired)
	}
}

func TestCancelRemovesTimer(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()

	fired := false
	tm := New(func() { fired = true }, 1)
	tm.Activate()
	tm.Cancel()

	n := RunExpired(1, TimerRunCycleThreshold)
	if n != 0 || fired {
		t.Fatal("cancelled timer fired")
	}
	if tm.Timeout() {
		t.Fatal("cancelled timer should not report Timeout")
	}
}

func TestScheduleTimeoutWokenEarly(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()
	clock.mu.Lock()
	clock.now = 0
	clock.mu.Unlock()

	s := newFakeSleeper()
	go func() {
		s.Wakeup()
	}()

	remaining := ScheduleTimeout(s, 1000)
	if remaining == 0 {
		t.Fatal("expected nonzero remaining jiffies when woken early")
	}
}

func TestScheduleTimeoutExpires(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()
	clock.mu.Lock()
	clock.now = 0
	clock.mu.Unlock()

	s := newFakeSleeper()
	stop := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		for {
			select {
			case <-stop:
				return
			default:
				Tick()
				time.Sleep(time.Millisecond)
			}
		}
	}()
	remaining := ScheduleTimeout(s, 1)
	close(stop)
	<-ticking
	if remaining != 0 {
		t.Fatalf("expired sleep should report 0 remaining, got %d", remaining)
	}
}

func TestTickAdvancesAndExpires(t *testing.T) {
	wheel.mu.Lock()
	wheel.list.Init()
	wheel.mu.Unlock()
	clock.mu.Lock()
	clock.now = 0
	clock.mu.Unlock()

	fired := false
	New(func() { fired = true }, Now()+1).Activate()
	Tick()
	if !fired {
		t.Fatal("Tick should have run the expired timer")
	}
}
