// Package perf implements the kernel core's software performance
// counters: task-clock and context-switches, attachable to a PCB by pid
// and driven by the scheduler's context-switch path. It is grounded on
// original_source/kernel/src/perf/mod.rs's PerfEventOps/PerfEventInode,
// narrowed to the PERF_TYPE_SOFTWARE counters that do not require a real
// PMU or BPF/kprobe plumbing — hardware counter programming stays out of
// scope, consistent with the arch HAL boundary.
package perf

import "sync"

// CounterType identifies which software event a Counter accumulates.
type CounterType int

const (
	// CounterTaskClock accumulates jiffies of scheduled runtime, the
	// software equivalent of PERF_COUNT_SW_TASK_CLOCK.
	CounterTaskClock CounterType = iota
	// CounterContextSwitches counts times the task was switched onto the
	// CPU, the equivalent of PERF_COUNT_SW_CONTEXT_SWITCHES.
	CounterContextSwitches
)

func (t CounterType) String() string {
	switch t {
	case CounterTaskClock:
		return "task-clock"
	case CounterContextSwitches:
		return "context-switches"
	default:
		return "unknown"
	}
}

// Counter is a single software counter. Disable freezes its value in
// place, mirroring PERF_EVENT_IOC_DISABLE: further Record calls are
// dropped until Enable is called again.
type Counter struct {
	mu      sync.Mutex
	typ     CounterType
	value   uint64
	enabled bool
}

func newCounter(t CounterType) *Counter {
	return &Counter{typ: t, enabled: true}
}

// Type reports which event this counter tracks.
func (c *Counter) Type() CounterType { return c.typ }

// Enable resumes counting.
func (c *Counter) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Disable freezes the counter's value.
func (c *Counter) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

// Read returns the counter's current value.
func (c *Counter) Read() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Counter) add(delta uint64) {
	c.mu.Lock()
	if c.enabled {
		c.value += delta
	}
	c.mu.Unlock()
}

// CounterSet is the fixed pair of software counters one PCB carries.
type CounterSet struct {
	TaskClock       *Counter
	ContextSwitches *Counter
}

func newCounterSet() *CounterSet {
	return &CounterSet{
		TaskClock:       newCounter(CounterTaskClock),
		ContextSwitches: newCounter(CounterContextSwitches),
	}
}

var registry = struct {
	mu   sync.Mutex
	sets map[int]*CounterSet
}{sets: make(map[int]*CounterSet)}

// Attach opens (or returns the already-open) counter set for pid, the
// perf_event_open equivalent of a task requesting its own software
// counters. Idempotent: calling it twice for the same pid returns the
// same set.
func Attach(pid int) *CounterSet {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	cs, ok := registry.sets[pid]
	if !ok {
		cs = newCounterSet()
		registry.sets[pid] = cs
	}
	return cs
}

// Detach closes pid's counter set, called from the task exit path once
// its PCB is no longer schedulable.
func Detach(pid int) {
	registry.mu.Lock()
	delete(registry.sets, pid)
	registry.mu.Unlock()
}

// Lookup returns pid's counter set, if one is attached.
func Lookup(pid int) (*CounterSet, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	cs, ok := registry.sets[pid]
	return cs, ok
}

// RecordContextSwitch increments pid's context-switches counter. A pid
// with no attached set is a silent no-op, so scheduler callers never
// need to check attachment first.
func RecordContextSwitch(pid int) {
	registry.mu.Lock()
	cs, ok := registry.sets[pid]
	registry.mu.Unlock()
	if ok {
		cs.ContextSwitches.add(1)
	}
}

// RecordTaskClock adds jiffies of accumulated runtime to pid's
// task-clock counter.
func RecordTaskClock(pid int, jiffies uint64) {
	if jiffies == 0 {
		return
	}
	registry.mu.Lock()
	cs, ok := registry.sets[pid]
	registry.mu.Unlock()
	if ok {
		cs.TaskClock.add(jiffies)
	}
}
