package process

import (
	"sync"

	"kcore/errors"
)

// NumSignals is the highest signal number the kernel core tracks (1..64,
// 1..31 standard, 32..64 realtime), per spec.md §4.5's "handler table
// (action + flags per signal 1..MAX_SIG)".
const NumSignals = 64

// FirstRTSignal is the lowest realtime signal number; signals at or
// above it preserve enqueue order instead of coalescing.
const FirstRTSignal = 32

// Well-known signal numbers referenced by the testable properties and
// end-to-end scenarios (SIGKILL/STOP unmaskable, SIGUSR1 used in the
// signalfd scenario).
const (
	SIGKILL = 9
	SIGSTOP = 19
	SIGCONT = 18
	SIGCHLD = 17
	SIGUSR1 = 10
)

// Disposition is a signal's default or configured action.
type Disposition int

const (
	ActionTerminate Disposition = iota
	ActionTerminateDump
	ActionStop
	ActionContinue
	ActionIgnore
	ActionHandler
)

// SigInfo carries the delivered signal number and an opaque payload
// (sender pid, cause code, etc.), mirroring siginfo_t's role without
// reproducing its C layout.
type SigInfo struct {
	Signo int
	Cause int
	Data  interface{}
}

// SignalState is the per-task signal delivery state: pending set, blocked
// mask, FIFO queue (RT signals keep every instance; non-RT signals
// coalesce to one pending instance per number), and handler table.
type SignalState struct {
	mu       sync.Mutex
	blocked  uint64
	pending  [NumSignals + 1]*SigInfo // non-RT: at most one instance
	rtQueue  []SigInfo                // RT signals: FIFO, never coalesced
	handlers [NumSignals + 1]Disposition
	waker    func() // invoked to wake a sleeping owner task; set by the TCB
}

func newSignalState() *SignalState {
	return &SignalState{}
}

// SetWaker installs the callback SendSignal uses to wake a task blocked
// in interruptible sleep when a deliverable signal arrives.
func (s *SignalState) SetWaker(f func()) {
	s.mu.Lock()
	s.waker = f
	s.mu.Unlock()
}

func isRT(sig int) bool { return sig >= FirstRTSignal }

// SendSignal enqueues sig for delivery to t, applying the blocked-mask
// and default-ignore rules from spec.md §4.5: SIGKILL/SIGSTOP are
// unmaskable; a blocked or default-ignored signal with no handler is
// dropped; otherwise it is enqueued, the task is marked
// HasPendingSignal, and a task blocked in sleep is woken.
func (t *TCB) SendSignal(sig int, info SigInfo) error {
	if sig < 1 || sig > NumSignals {
		return errors.New(errors.Invalid, "process", "send_signal", "signal number out of range")
	}
	s := t.signals
	s.mu.Lock()

	unmaskable := sig == SIGKILL || sig == SIGSTOP
	blocked := !unmaskable && s.blocked&(1<<uint(sig-1)) != 0
	disposition := s.handlers[sig]
	dropped := blocked || (disposition == ActionIgnore && !unmaskable)

	if dropped {
		s.mu.Unlock()
		return nil
	}

	info.Signo = sig
	if isRT(sig) {
		s.rtQueue = append(s.rtQueue, info)
	} else {
		s.pending[sig] = &info
	}
	waker := s.waker
	s.mu.Unlock()

	t.setFlag(FlagHasPendingSignal)
	if waker != nil {
		waker()
	}
	return nil
}

// DequeueSignal returns the highest-priority unblocked, non-ignored
// pending signal not present in ignoreMask, per §4.5's priority order:
// lowest-numbered non-RT signal first match is a simplification that
// still honors "RT signals by number; others by number" since both
// queues are consulted in ascending signal-number order.
func (t *TCB) DequeueSignal(ignoreMask uint64) (SigInfo, bool) {
	s := t.signals
	s.mu.Lock()
	defer s.mu.Unlock()

	for sig := 1; sig <= NumSignals; sig++ {
		if ignoreMask&(1<<uint(sig-1)) != 0 {
			continue
		}
		if isRT(sig) {
			for i, info := range s.rtQueue {
				if info.Signo == sig {
					s.rtQueue = append(s.rtQueue[:i], s.rtQueue[i+1:]...)
					return info, true
				}
			}
			continue
		}
		if s.pending[sig] != nil {
			info := *s.pending[sig]
			s.pending[sig] = nil
			return info, true
		}
	}

	hasMore := false
	for sig := 1; sig <= NumSignals; sig++ {
		if ignoreMask&(1<<uint(sig-1)) != 0 {
			continue
		}
		if s.pending[sig] != nil || (isRT(sig) && signoInQueue(s.rtQueue, sig)) {
			hasMore = true
			break
		}
	}
	if !hasMore {
		t.clearFlag(FlagHasPendingSignal)
	}
	return SigInfo{}, false
}

// PeekSignal reports whether a signal outside ignoreMask is pending,
// without dequeuing it — the non-consuming counterpart to DequeueSignal
// used by signalfd's poll() path, which must answer "readable?" without
// taking the signal the eventual read() would consume.
func (t *TCB) PeekSignal(ignoreMask uint64) (int, bool) {
	s := t.signals
	s.mu.Lock()
	defer s.mu.Unlock()

	for sig := 1; sig <= NumSignals; sig++ {
		if ignoreMask&(1<<uint(sig-1)) != 0 {
			continue
		}
		if isRT(sig) {
			if signoInQueue(s.rtQueue, sig) {
				return sig, true
			}
			continue
		}
		if s.pending[sig] != nil {
			return sig, true
		}
	}
	return 0, false
}

func signoInQueue(q []SigInfo, sig int) bool {
	for _, info := range q {
		if info.Signo == sig {
			return true
		}
	}
	return false
}

// SetHandler installs disposition as sig's action.
func (t *TCB) SetHandler(sig int, disposition Disposition) error {
	if sig < 1 || sig > NumSignals {
		return errors.New(errors.Invalid, "process", "set_handler", "signal number out of range")
	}
	if sig == SIGKILL || sig == SIGSTOP {
		return errors.New(errors.NotPermitted, "process", "set_handler", "SIGKILL/SIGSTOP disposition is fixed")
	}
	t.signals.mu.Lock()
	t.signals.handlers[sig] = disposition
	t.signals.mu.Unlock()
	return nil
}

// SetBlocked replaces the task's blocked-signal mask, returning the
// previous mask so callers (rt_sigtimedwait, sigprocmask) can restore it.
func (t *TCB) SetBlocked(mask uint64) uint64 {
	t.signals.mu.Lock()
	defer t.signals.mu.Unlock()
	prev := t.signals.blocked
	// SIGKILL and SIGSTOP can never be blocked.
	t.signals.blocked = mask &^ (1<<(SIGKILL-1) | 1<<(SIGSTOP-1))
	return prev
}

// BlockedMask returns the task's current blocked-signal mask.
func (t *TCB) BlockedMask() uint64 {
	t.signals.mu.Lock()
	defer t.signals.mu.Unlock()
	return t.signals.blocked
}

// HasPendingUnblocked reports whether any non-blocked signal is pending,
// used by rt_sigtimedwait's fast path and interruptible-sleep wakeups.
func (t *TCB) HasPendingUnblocked() bool {
	t.signals.mu.Lock()
	defer t.signals.mu.Unlock()
	for sig := 1; sig <= NumSignals; sig++ {
		if t.signals.blocked&(1<<uint(sig-1)) != 0 {
			continue
		}
		if t.signals.pending[sig] != nil || signoInQueue(t.signals.rtQueue, sig) {
			return true
		}
	}
	return false
}
