// Package timer implements the kernel core's monotonic jiffies clock and
// expiry-ordered timer wheel described in SPEC_FULL.md's timer wheel
// section: Timer.new/activate, softirq-context bounded expiry, and
// schedule_timeout.
package timer

import (
	"container/list"
	"math"
	"sync"
)

// Jiffies is the monotonic coarse-grained tick counter. It is unsigned;
// MaxJiffies means "indefinite" when passed to ScheduleTimeout.
type Jiffies = uint64

// MaxJiffies is the sentinel meaning "sleep forever" to ScheduleTimeout.
const MaxJiffies Jiffies = math.MaxUint64

// TimerRunCycleThreshold bounds how many expired timers RunExpired fires
// per softirq invocation, to cap softirq latency (§4.2).
const TimerRunCycleThreshold = 64

var clock struct {
	mu  sync.Mutex
	now Jiffies
}

// Now returns the current jiffies value.
func Now() Jiffies {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

// Tick advances the jiffies counter by one and runs due timer expiry,
// bounded by TimerRunCycleThreshold. It stands in for the coarse timer
// interrupt's bottom half.
func Tick() {
	clock.mu.Lock()
	clock.now++
	now := clock.now
	clock.mu.Unlock()
	RunExpired(now, TimerRunCycleThreshold)
}

// Callback is invoked when a timer expires.
type Callback func()

// Timer is a single (expire_jiffies, callback) pair that may be inserted
// into the global expiry-ordered list.
type Timer struct {
	ExpireJiffies Jiffies
	Callback      Callback

	mu     sync.Mutex
	active bool
	ran    bool
	elem   *list.Element
}

// New creates a timer that is not yet armed; call Activate to insert it.
func New(callback Callback, expireJiffies Jiffies) *Timer {
	return &Timer{ExpireJiffies: expireJiffies, Callback: callback}
}

// Activate inserts the timer into the global list in ascending-expiry
// order, tie-breaking by insertion order (FIFO) among equal expiries.
func (t *Timer) Activate() {
	wheel.mu.Lock()
	defer wheel.mu.Unlock()

	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.ran = false
	t.mu.Unlock()

	// Insert before the first element whose expiry is strictly greater,
	// so equal-expiry timers queue FIFO behind existing entries.
	var at *list.Element
	for e := wheel.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*Timer).ExpireJiffies > t.ExpireJiffies {
			at = e
			break
		}
	}
	if at != nil {
		t.elem = wheel.list.InsertBefore(t, at)
	} else {
		t.elem = wheel.list.PushBack(t)
	}
}

// Cancel removes the timer from the global list if present. It is safe to
// call on a timer that has already fired or was never activated.
func (t *Timer) Cancel() {
	wheel.mu.Lock()
	defer wheel.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && t.elem != nil {
		wheel.list.Remove(t.elem)
	}
	t.active = false
	t.elem = nil
}

// Timeout reports whether the timer's callback has already run.
func (t *Timer) Timeout() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ran
}

var wheel = struct {
	mu   sync.Mutex
	list list.List
}{}

// Pending returns the expiry of every timer currently armed, in
// ascending order, for the debug CLI's timer wheel dump.
func Pending() []Jiffies {
	wheel.mu.Lock()
	defer wheel.mu.Unlock()
	out := make([]Jiffies, 0, wheel.list.Len())
	for e := wheel.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Timer).ExpireJiffies)
	}
	return out
}

// RunExpired pops timers whose expiry is <= now off the front of the
// ascending-ordered list and runs their callbacks, stopping after
// threshold timers to bound softirq latency. It returns the number of
// timers run.
func RunExpired(now Jiffies, threshold int) int {
	var due []*Timer

	wheel.mu.Lock()
	for i := 0; i < threshold; i++ {
		front := wheel.list.Front()
		if front == nil {
			break
		}
		tm := front.Value.(*Timer)
		if tm.ExpireJiffies > now {
			break
		}
		wheel.list.Remove(front)

		tm.mu.Lock()
		tm.active = false
		tm.elem = nil
		tm.ran = true
		tm.mu.Unlock()

		due = append(due, tm)
	}
	wheel.mu.Unlock()

	for _, tm := range due {
		if tm.Callback != nil {
			tm.Callback()
		}
	}
	return len(due)
}

// Sleeper is the minimal contract ScheduleTimeout needs from a task: a way
// to mark it blocked/runnable and a way to invoke the scheduler. process.TCB
// satisfies this.
type Sleeper interface {
	MarkSleep(interruptible bool)
	Wakeup() error
	Sched()
}

// ScheduleTimeout arms a wakeup-helper timer for the given task, marks it
// sleeping, and invokes the scheduler; it returns the number of jiffies
// remaining when the sleep ended (0 if the timer fired, i.e. a full
// timeout elapsed). Passing MaxJiffies sleeps indefinitely (no timer is
// armed; only an external Wakeup can end the sleep).
func ScheduleTimeout(s Sleeper, n Jiffies) Jiffies {
	if n == MaxJiffies {
		s.MarkSleep(true)
		s.Sched()
		return 0
	}

	deadline := Now() + n
	fired := make(chan struct{}, 1)
	tm := New(func() {
		fired <- struct{}{}
		_ = s.Wakeup()
	}, deadline)
	tm.Activate()

	s.MarkSleep(true)
	s.Sched()
	tm.Cancel()

	select {
	case <-fired:
		return 0
	default:
	}
	now := Now()
	if now >= deadline {
		return 0
	}
	return deadline - now
}
