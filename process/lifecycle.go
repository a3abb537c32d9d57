package process

import (
	"kcore/errors"
	"kcore/perf"
	"kcore/sched"
)

// CloneOptions configures Fork, generalized from
// kornnellio-runc-Go/container/create.go's CreateOptions into the
// kernel's own clone(2) argument shape: which resources to share and the
// child's entry point.
type CloneOptions struct {
	Flags CloneFlags
	// Entry is run on the child task once it has been published to the
	// global task table; the SyncPipe lets the parent block until the
	// child has either completed its setup or reported an error, the
	// same handshake kornnellio-runc-Go/container/create.go performs
	// around the real fork/exec boundary.
	Entry func(child *TCB) error
}

// Fork creates a child task of parent per opts, runs opts.Entry
// synchronously-from-the-child's-perspective via the sync-pipe handshake,
// and returns the child once its entry function has signaled readiness.
// CloneThread puts the child in parent's thread group; no other flag is
// acted on or stored here. Sharing or copying the fd table, address
// space and mount namespace is done by the caller (ksyscall's
// cloneContext) from the same flags.
func Fork(parent *TCB, opts CloneOptions) (*TCB, error) {
	if _, exited := parent.ExitCode(); exited {
		return nil, errors.ErrTaskExited
	}

	child := newTask(parent.Credentials())
	child.mu.Lock()
	child.parentPID = parent.pid
	if opts.Flags.Has(CloneThread) {
		child.threadGrp = parent.ThreadGroupID()
	}
	child.mu.Unlock()

	parent.mu.Lock()
	parent.children[child.pid] = struct{}{}
	parent.mu.Unlock()

	if opts.Entry == nil {
		return child, nil
	}

	pipe := NewSyncPipe()
	go func() {
		if err := opts.Entry(child); err != nil {
			pipe.SignalError(err)
			return
		}
		pipe.Signal()
	}()

	if err := pipe.Wait(); err != nil {
		exitLocked(child, -1)
		return nil, errors.Wrap(err, errors.Internal, "process", "fork")
	}
	return child, nil
}

// WaitOpts mirrors the wait4/waitid option flags relevant to this core.
type WaitOpts struct {
	NoHang    bool // WNOHANG
	Untraced  bool // WUNTRACED: also report Stopped children
	Continued bool // WCONTINUED: also report Continued children
}

// WaitResult reports the outcome of a successful Wait4 call.
type WaitResult struct {
	PID      int
	ExitCode int
	Status   uint32
}

// EncodeStatus packs an exit code into the conventional 16-bit wait
// status layout: high byte exit code, low byte 0 for normal exit.
func EncodeStatus(exitCode int) uint32 {
	return uint32(exitCode&0xff) << 8
}

// EncodeKilledStatus packs a terminating-signal status: low 7 bits the
// signal number, bit 0x80 set if a core was dumped.
func EncodeKilledStatus(sig int, coreDumped bool) uint32 {
	status := uint32(sig & 0x7f)
	if coreDumped {
		status |= 0x80
	}
	return status
}

// WEXITSTATUS extracts the exit code from a status encoded by
// EncodeStatus.
func WEXITSTATUS(status uint32) int { return int((status >> 8) & 0xff) }

// WIFEXITED reports whether status represents a normal exit.
func WIFEXITED(status uint32) bool { return status&0x7f == 0 }

// WIFSIGNALED reports whether status represents signal termination.
func WIFSIGNALED(status uint32) bool { return status&0x7f != 0 && status&0x7f != 0x7f }

// WTERMSIG extracts the terminating signal number.
func WTERMSIG(status uint32) int { return int(status & 0x7f) }

// Wait4 implements kernel_wait4 for the restricted pid forms this core
// supports: pid > 0 waits for that specific child; pid == -1 waits for
// any child. Negative/zero group forms are not modeled (no process-group
// core in this spec) and return errors.Invalid.
func Wait4(parent *TCB, pid int, opts WaitOpts) (WaitResult, error) {
	if pid == 0 || pid < -1 {
		return WaitResult{}, errors.New(errors.Invalid, "process", "wait4", "process-group wait forms are not supported")
	}

	for {
		parent.mu.RLock()
		if len(parent.children) == 0 {
			parent.mu.RUnlock()
			return WaitResult{}, errors.ErrNoChildren
		}
		var candidates []int
		if pid == -1 {
			for cpid := range parent.children {
				candidates = append(candidates, cpid)
			}
		} else if _, ok := parent.children[pid]; ok {
			candidates = []int{pid}
		} else {
			parent.mu.RUnlock()
			return WaitResult{}, errors.ErrTaskNotFound
		}
		parent.mu.RUnlock()

		for _, cpid := range candidates {
			child, ok := lookup(cpid)
			if !ok {
				continue
			}
			if code, exited := child.ExitCode(); exited {
				parent.mu.Lock()
				delete(parent.children, cpid)
				parent.mu.Unlock()
				reap(cpid)
				return WaitResult{PID: cpid, ExitCode: code, Status: EncodeStatus(code)}, nil
			}
			if opts.Untraced && child.State() == sched.Stopped {
				return WaitResult{PID: cpid, Status: 0x7f}, nil
			}
		}

		if opts.NoHang {
			return WaitResult{}, nil
		}

		err := parent.childWait.WaitUntilInterruptible(func() bool {
			for _, cpid := range candidates {
				if child, ok := lookup(cpid); ok {
					if _, exited := child.ExitCode(); exited {
						return true
					}
				}
			}
			return false
		}, nil)
		if err != nil {
			return WaitResult{}, err
		}
	}
}

// Exit runs the five-step exit ladder from spec.md §4.4: mark exiting,
// detach resources (the fd-table/address-space/signal-state drop is the
// caller's responsibility via whatever vfs/mm objects it owns — this
// core records only the scheduling-visible state transition), reparent
// children to pid 1, notify the parent with SIGCHLD, and publish the
// exit code.
func Exit(t *TCB, code int) {
	exitLocked(t, code)
}

func exitLocked(t *TCB, code int) {
	t.setFlag(FlagExiting)

	reparentChildren(t)

	t.mu.Lock()
	t.exitCode = code
	t.exited = true
	t.mu.Unlock()

	sched.Exit(t)

	if parent, ok := t.Parent(); ok {
		_ = parent.SendSignal(SIGCHLD, SigInfo{Cause: int(SIGCHLD), Data: t.pid})
		parent.childWait.WakeAll()
	}
}

// reparentChildren moves every living child of t to the namespace init
// task (pid 1), per §4.4 step 3.
func reparentChildren(t *TCB) {
	t.mu.Lock()
	children := make([]int, 0, len(t.children))
	for cpid := range t.children {
		children = append(children, cpid)
	}
	t.children = make(map[int]struct{})
	t.mu.Unlock()

	initTask, hasInit := lookup(1)
	for _, cpid := range children {
		child, ok := lookup(cpid)
		if !ok {
			continue
		}
		child.mu.Lock()
		if hasInit {
			child.parentPID = initTask.pid
		} else {
			child.parentPID = 0
		}
		child.mu.Unlock()
		if hasInit {
			initTask.mu.Lock()
			initTask.children[cpid] = struct{}{}
			initTask.mu.Unlock()
		}
	}
}

// reap removes a collected child from the global task table once its
// parent has consumed its wait status, per §3's "freed only after parent
// consumes wait status".
func reap(pid int) {
	table.mu.Lock()
	delete(table.tasks, pid)
	table.mu.Unlock()
	perf.Detach(pid)
}
