// Package sched implements the scheduling core described in SPEC_FULL.md:
// per-task run state, nested preemption guards, and the scheduler entry
// point that picks and switches to the next runnable task. It is grounded
// on original_source/kernel/src/process/preempt.rs's PreemptGuard and the
// PROC_RUNNING-style state machine referenced throughout
// original_source/kernel/src/io/scheduler.rs.
package sched

import (
	"sync"
	"sync/atomic"

	"kcore/errors"
	"kcore/logging"
	"kcore/perf"
	"kcore/timer"
)

// State is a task's scheduling state.
type State int

const (
	// Runnable tasks are eligible to be picked by Sched.
	Runnable State = iota
	// Blocked tasks are asleep on some wait queue and not eligible to run
	// until woken.
	Blocked
	// Stopped tasks are job-control stopped (SIGSTOP) and only resume on
	// SIGCONT.
	Stopped
	// Exited tasks have called Exit and are awaiting reaping by wait4.
	Exited
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Blocked:
		return "blocked"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Task is the minimal schedulable entity: something with a run state that
// the scheduler and wait/wakeup paths manipulate. process.TCB implements
// this plus a great deal more.
type Task interface {
	ID() int
	State() State
	setState(State)
}

// Entity is the Task implementation a concrete task type embeds (as
// *Entity), letting the scheduler mutate state without a type switch over every
// caller's concrete task type.
type Entity struct {
	id    int
	state atomic.Int32
}

// NewEntity creates a schedulable entity in the Runnable state.
func NewEntity(id int) *Entity {
	e := &Entity{id: id}
	e.state.Store(int32(Runnable))
	return e
}

func (e *Entity) ID() int        { return e.id }
func (e *Entity) State() State   { return State(e.state.Load()) }
func (e *Entity) setState(s State) { e.state.Store(int32(s)) }

// preemptCount is the process-wide nesting depth of active PreemptGuards.
// A real kernel keys this per-CPU; here the simulation is single-scheduler
// so a process-wide counter serves the same "is preemption currently
// disabled" query.
var preemptCount atomic.Int32

// PreemptGuard disables preemption for its lifetime; guards nest, and
// preemption is re-enabled only once the outermost guard is released.
// Sched called while any guard is held is a programming error.
type PreemptGuard struct {
	released bool
}

// NewPreemptGuard enters a non-preemptible section.
func NewPreemptGuard() *PreemptGuard {
	preemptCount.Add(1)
	return &PreemptGuard{}
}

// Release exits the non-preemptible section. Safe to call at most once;
// a guard is typically released via a deferred call.
func (g *PreemptGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	preemptCount.Add(-1)
}

// PreemptDisabled reports whether preemption is currently disabled by any
// outstanding PreemptGuard.
func PreemptDisabled() bool {
	return preemptCount.Load() > 0
}

var runQueue = struct {
	mu    sync.Mutex
	tasks []Task
}{}

// Enqueue adds a task to the run queue. It is a no-op if the task is
// already present.
func Enqueue(t Task) {
	runQueue.mu.Lock()
	defer runQueue.mu.Unlock()
	for _, existing := range runQueue.tasks {
		if existing == t {
			return
		}
	}
	runQueue.tasks = append(runQueue.tasks, t)
}

// Dequeue removes a task from the run queue, if present.
func Dequeue(t Task) {
	runQueue.mu.Lock()
	defer runQueue.mu.Unlock()
	for i, existing := range runQueue.tasks {
		if existing == t {
			runQueue.tasks = append(runQueue.tasks[:i], runQueue.tasks[i+1:]...)
			return
		}
	}
}

// RunQueue returns a snapshot of the tasks currently on the run queue,
// for the debug CLI's scheduler dump.
func RunQueue() []Task {
	runQueue.mu.Lock()
	defer runQueue.mu.Unlock()
	out := make([]Task, len(runQueue.tasks))
	copy(out, runQueue.tasks)
	return out
}

// current is the task last switched onto the CPU by Sched, along with
// the jiffies timestamp at which it was switched in, for task-clock
// accounting. A real kernel keys this per-CPU; the simulation is
// single-scheduler so one pair serves the same purpose.
var current = struct {
	mu    sync.Mutex
	task  Task
	since timer.Jiffies
}{}

// Sched picks the first Runnable task on the run queue, rotates it to the
// back (round-robin), and records the switch for perf accounting; it
// does not run any task body itself. It panics if
// called while preemption is disabled, matching the kernel invariant that
// schedule() is never reached inside a PreemptGuard.
func Sched() {
	if PreemptDisabled() {
		panic("sched: Sched called with preemption disabled")
	}

	runQueue.mu.Lock()
	var next Task
	var idx int
	for i, t := range runQueue.tasks {
		if t.State() == Runnable {
			next = t
			idx = i
			break
		}
	}
	if next != nil {
		runQueue.tasks = append(runQueue.tasks[:idx:idx], runQueue.tasks[idx+1:]...)
		runQueue.tasks = append(runQueue.tasks, next)
	}
	runQueue.mu.Unlock()

	if next == nil {
		logging.Debug("sched: no runnable task, idling")
		return
	}

	recordSwitch(next)
}

// recordSwitch drives the perf software counters off the scheduler's
// context-switch decision: the task switched out accrues its task-clock
// for the time it held the CPU, and the task switched in gets a
// context-switch tally, matching PERF_COUNT_SW_TASK_CLOCK/
// PERF_COUNT_SW_CONTEXT_SWITCHES semantics. A no-op if next was already
// the running task.
func recordSwitch(next Task) {
	now := timer.Now()

	current.mu.Lock()
	prev := current.task
	since := current.since
	sameTask := prev != nil && prev.ID() == next.ID()
	if !sameTask {
		current.task = next
		current.since = now
	}
	current.mu.Unlock()

	if sameTask {
		return
	}
	if prev != nil {
		perf.RecordTaskClock(prev.ID(), uint64(now-since))
	}
	perf.RecordContextSwitch(next.ID())
}

// MarkSleep transitions t to Blocked and removes it from the run queue.
// The interruptible flag is advisory bookkeeping for callers (e.g.
// process.TCB) that track whether a pending signal should abort the
// sleep; sched itself does not interpret it.
func MarkSleep(t Task, interruptible bool) {
	t.setState(Blocked)
	Dequeue(t)
}

// Wakeup transitions a Blocked task back to Runnable and re-enqueues it.
// It returns errors.ErrNotBlocked if the task was not asleep.
func Wakeup(t Task) error {
	if t.State() != Blocked {
		return errors.ErrNotBlocked
	}
	t.setState(Runnable)
	Enqueue(t)
	return nil
}

// WakeupStop transitions a Stopped task (job-control SIGSTOP) back to
// Runnable on SIGCONT delivery.
func WakeupStop(t Task) error {
	if t.State() != Stopped {
		return errors.ErrNotBlocked
	}
	t.setState(Runnable)
	Enqueue(t)
	return nil
}

// Stop transitions a Runnable task to Stopped (job-control SIGSTOP).
func Stop(t Task) {
	t.setState(Stopped)
	Dequeue(t)
}

// Exit transitions a task to Exited and removes it from the run queue.
func Exit(t Task) {
	t.setState(Exited)
	Dequeue(t)
}
