package process

import (
	"testing"
	"time"

	"kcore/errors"
)

func TestForkRegistersChildUnderParent(t *testing.T) {
	parent := Init()
	child, err := Fork(parent, CloneOptions{})
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	if child.ParentPID() != parent.PID() {
		t.Fatalf("child ParentPID = %d, want %d", child.ParentPID(), parent.PID())
	}
	found := false
	for _, cpid := range parent.Children() {
		if cpid == child.PID() {
			found = true
		}
	}
	if !found {
		t.Fatal("child pid not present in parent's child set")
	}
}

func TestForkWithEntryHandshake(t *testing.T) {
	parent := Init()
	ran := false
	child, err := Fork(parent, CloneOptions{
		Entry: func(c *TCB) error {
			ran = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	if !ran {
		t.Fatal("entry function did not run")
	}
	_ = child
}

func TestForkWithFailingEntryPropagatesError(t *testing.T) {
	parent := Init()
	wantErr := errors.New(errors.Invalid, "test", "entry", "boom")
	_, err := Fork(parent, CloneOptions{
		Entry: func(c *TCB) error { return wantErr },
	})
	if err == nil {
		t.Fatal("expected error from failing entry")
	}
}

func TestWait4CollectsExitedChild(t *testing.T) {
	parent := Init()
	child, err := Fork(parent, CloneOptions{})
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	Exit(child, 42)

	res, err := Wait4(parent, child.PID(), WaitOpts{})
	if err != nil {
		t.Fatalf("Wait4 failed: %v", err)
	}
	if res.PID != child.PID() || WEXITSTATUS(res.Status) != 42 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestWait4NoHangReturnsZeroWhenNoneExited(t *testing.T) {
	parent := Init()
	child, err := Fork(parent, CloneOptions{})
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	_ = child

	res, err := Wait4(parent, -1, WaitOpts{NoHang: true})
	if err != nil {
		t.Fatalf("Wait4 failed: %v", err)
	}
	if res.PID != 0 {
		t.Fatalf("expected PID 0 when nothing exited, got %d", res.PID)
	}
}

func TestWait4NoChildrenReturnsErrNoChildren(t *testing.T) {
	parent := Init()
	_, err := Wait4(parent, -1, WaitOpts{})
	if !errors.Is(err, errors.ErrNoChildren) {
		t.Fatalf("expected ErrNoChildren, got %v", err)
	}
}

func TestWait4BlocksUntilChildExits(t *testing.T) {
	parent := Init()
	child, err := Fork(parent, CloneOptions{})
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}

	done := make(chan WaitResult, 1)
	go func() {
		res, _ := Wait4(parent, child.PID(), WaitOpts{})
		done <- res
	}()

	time.Sleep(10 * time.Millisecond)
	Exit(child, 7)

	select {
	case res := <-done:
		if WEXITSTATUS(res.Status) != 7 {
			t.Fatalf("unexpected exit status: %d", WEXITSTATUS(res.Status))
		}
	case <-time.After(time.Second):
		t.Fatal("Wait4 did not unblock after child exit")
	}
}

func TestSendSignalAndDequeue(t *testing.T) {
	task := Init()
	if err := task.SendSignal(SIGUSR1, SigInfo{}); err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}
	info, ok := task.DequeueSignal(0)
	if !ok || info.Signo != SIGUSR1 {
		t.Fatalf("expected to dequeue SIGUSR1, got %+v ok=%v", info, ok)
	}
	if _, ok := task.DequeueSignal(0); ok {
		t.Fatal("expected no more pending signals")
	}
}

func TestSendSignalBlockedIsDropped(t *testing.T) {
	task := Init()
	task.SetBlocked(1 << (SIGUSR1 - 1))
	task.SendSignal(SIGUSR1, SigInfo{})
	if _, ok := task.DequeueSignal(0); ok {
		t.Fatal("blocked signal should have been dropped, not queued")
	}
}

func TestSendSignalSIGKILLUnmaskable(t *testing.T) {
	task := Init()
	task.SetBlocked(^uint64(0))
	if err := task.SendSignal(SIGKILL, SigInfo{}); err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}
	info, ok := task.DequeueSignal(0)
	if !ok || info.Signo != SIGKILL {
		t.Fatal("SIGKILL should never be blocked")
	}
}

func TestRTSignalsDoNotCoalesce(t *testing.T) {
	task := Init()
	rt := FirstRTSignal
	task.SendSignal(rt, SigInfo{Data: 1})
	task.SendSignal(rt, SigInfo{Data: 2})

	first, ok := task.DequeueSignal(0)
	if !ok || first.Data != 1 {
		t.Fatalf("expected first RT instance, got %+v", first)
	}
	second, ok := task.DequeueSignal(0)
	if !ok || second.Data != 2 {
		t.Fatalf("expected second RT instance, got %+v", second)
	}
}

func TestNonRTSignalsCoalesce(t *testing.T) {
	task := Init()
	task.SetHandler(SIGUSR1, ActionHandler)
	task.SendSignal(SIGUSR1, SigInfo{Data: 1})
	task.SendSignal(SIGUSR1, SigInfo{Data: 2})

	info, ok := task.DequeueSignal(0)
	if !ok {
		t.Fatal("expected one coalesced pending signal")
	}
	if info.Data != 2 {
		t.Fatalf("expected coalesced signal to carry the latest data, got %+v", info)
	}
	if _, ok := task.DequeueSignal(0); ok {
		t.Fatal("expected only one coalesced instance")
	}
}

func TestExitSetsExitCode(t *testing.T) {
	task := Init()
	Exit(task, 5)
	code, exited := task.ExitCode()
	if !exited || code != 5 {
		t.Fatalf("expected exited with code 5, got code=%d exited=%v", code, exited)
	}
}

func TestKernelThreadCooperativeStop(t *testing.T) {
	parent := Init()
	started := make(chan struct{})
	stopped := make(chan struct{})

	thread, err := NewKernelThread(parent, "worker", func(self *TCB) error {
		close(started)
		for !ShouldStop(self) {
			time.Sleep(time.Millisecond)
		}
		close(stopped)
		return nil
	})
	if err != nil {
		t.Fatalf("NewKernelThread failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("kernel thread did not start")
	}

	StopKernelThread(thread)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("kernel thread did not observe ShouldStop")
	}

	if _, exited := thread.ExitCode(); !exited {
		t.Fatal("expected kernel thread to have exited after stop")
	}
}

func TestEncodeDecodeStatus(t *testing.T) {
	status := EncodeStatus(42)
	if !WIFEXITED(status) {
		t.Fatal("expected WIFEXITED true for normal exit status")
	}
	if WEXITSTATUS(status) != 42 {
		t.Fatalf("WEXITSTATUS = %d, want 42", WEXITSTATUS(status))
	}
}

func TestEncodeKilledStatus(t *testing.T) {
	status := EncodeKilledStatus(9, false)
	if WIFEXITED(status) {
		t.Fatal("expected WIFEXITED false for signaled status")
	}
	if !WIFSIGNALED(status) {
		t.Fatal("expected WIFSIGNALED true")
	}
	if WTERMSIG(status) != 9 {
		t.Fatalf("WTERMSIG = %d, want 9", WTERMSIG(status))
	}
}

func TestCredentialsSwapIsAtomic(t *testing.T) {
	task := Init()
	initial := task.Credentials()
	if !initial.HasCapability(CapSysAdmin) {
		t.Fatal("root credentials should have CapSysAdmin")
	}
	dropped := initial.DropCapability(CapSysAdmin)
	task.SetCredentials(dropped)
	if task.Credentials().HasCapability(CapSysAdmin) {
		t.Fatal("expected CapSysAdmin dropped after SetCredentials")
	}
}
