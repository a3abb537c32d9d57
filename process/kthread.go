package process

import (
	"sync/atomic"

	"kcore/ksync"
)

// KThreadFunc is a kernel thread's body. It should check ShouldStop(self)
// at each loop iteration and return promptly once it observes true.
type KThreadFunc func(self *TCB) error

// kthreadExtra holds the cooperative-stop bookkeeping for a kernel
// thread, kept out of TCB itself since only kernel threads need it.
type kthreadExtra struct {
	shouldStop atomic.Bool
	stopped    *ksync.Completion
}

var kthreadState = struct {
	extra map[int]*kthreadExtra
}{extra: make(map[int]*kthreadExtra)}

var kthreadMu ksync.Spinlock

// NewKernelThread forks a kernel-thread task from parent, running fn in
// a goroutine that stands in for the thread's own schedulable context.
// It mirrors §4.4's kernel-thread daemon: the work request carries a
// closure and a name, the daemon forks a task, initializes it in
// kernel-thread mode, and publishes the resulting TCB back to the
// requester via a completion — here the completion is simply Fork's own
// synchronous sync-pipe handshake.
func NewKernelThread(parent *TCB, name string, fn KThreadFunc) (*TCB, error) {
	extra := &kthreadExtra{stopped: ksync.NewCompletion()}

	child, err := Fork(parent, CloneOptions{
		Flags: CloneVM | CloneFiles | CloneSighand,
		Entry: func(t *TCB) error {
			t.setFlag(FlagKernelThread)
			kthreadMu.Lock()
			kthreadState.extra[t.pid] = extra
			kthreadMu.Unlock()
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	go func() {
		_ = fn(child)
		exitLocked(child, 0)
		extra.stopped.Complete()
	}()

	return child, nil
}

// ShouldStop reports whether t has been asked to stop cooperatively.
func ShouldStop(t *TCB) bool {
	kthreadMu.Lock()
	extra, ok := kthreadState.extra[t.pid]
	kthreadMu.Unlock()
	return ok && extra.shouldStop.Load()
}

// StopKernelThread sets t's stop flag, wakes it if asleep, and blocks
// until it has exited.
func StopKernelThread(t *TCB) {
	kthreadMu.Lock()
	extra, ok := kthreadState.extra[t.pid]
	kthreadMu.Unlock()
	if !ok {
		return
	}
	extra.shouldStop.Store(true)
	_ = t.Wakeup()
	extra.stopped.Wait()
}
