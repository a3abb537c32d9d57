package futex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kcore/errors"
)

type fakeWaiter struct {
	id      int
	mu      sync.Mutex
	asleep  bool
	woken   chan struct{}
	schedCh chan struct{}
}

func newFakeWaiter(id int) *fakeWaiter {
	return &fakeWaiter{id: id, woken: make(chan struct{}, 1), schedCh: make(chan struct{}, 1)}
}

func (w *fakeWaiter) ID() int { return w.id }

func (w *fakeWaiter) MarkSleep(interruptible bool) {
	w.mu.Lock()
	w.asleep = true
	w.mu.Unlock()
}

func (w *fakeWaiter) Wakeup() error {
	w.mu.Lock()
	w.asleep = false
	w.mu.Unlock()
	select {
	case w.woken <- struct{}{}:
	default:
	}
	return nil
}

func (w *fakeWaiter) Sched() {
	w.schedCh <- struct{}{}
}

func TestWaitReturnsWouldBlockWhenValueAlreadyChanged(t *testing.T) {
	key := Key{Kind: KeyPrivate, Addr: 0x1000, TID: 1}
	w := newFakeWaiter(1)
	err := Wait(key, w, 1, 0, func() uint32 { return 2 })
	if !errors.IsKind(err, errors.Again) {
		t.Fatalf("expected Again, got %v", err)
	}
}

func TestWakeWakesWaitingWaiter(t *testing.T) {
	key := Key{Kind: KeyPrivate, Addr: 0x2000, TID: 2}
	w := newFakeWaiter(2)
	var value uint32 = 1

	go func() {
		<-w.schedCh
	}()

	if err := Wait(key, w, 1, 0, func() uint32 { return value }); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	woken := Wake(key, 0, 1)
	if woken != 1 {
		t.Fatalf("expected 1 woken, got %d", woken)
	}
	select {
	case <-w.woken:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWakeRespectsBitsetMask(t *testing.T) {
	key := Key{Kind: KeyPrivate, Addr: 0x3000, TID: 3}
	w := newFakeWaiter(3)
	go func() { <-w.schedCh }()

	if err := Wait(key, w, 1, 0x01, func() uint32 { return 1 }); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	// A wake with a disjoint bitset must not match.
	if woken := Wake(key, 0x02, 1); woken != 0 {
		t.Fatalf("expected 0 woken for disjoint bitset, got %d", woken)
	}
	select {
	case <-w.woken:
		t.Fatal("waiter woken despite disjoint bitset")
	case <-time.After(50 * time.Millisecond):
	}

	if woken := Wake(key, 0x01, 1); woken != 1 {
		t.Fatalf("expected 1 woken for matching bitset, got %d", woken)
	}
}

func TestWakeRespectsNrWakeLimit(t *testing.T) {
	key := Key{Kind: KeyPrivate, Addr: 0x4000, TID: 4}
	waiters := make([]*fakeWaiter, 3)
	for i := range waiters {
		waiters[i] = newFakeWaiter(i)
		go func(w *fakeWaiter) { <-w.schedCh }(waiters[i])
		if err := Wait(key, waiters[i], 1, 0, func() uint32 { return 1 }); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}

	woken := Wake(key, 0, 2)
	if woken != 2 {
		t.Fatalf("expected 2 woken, got %d", woken)
	}

	count := 0
	for _, w := range waiters {
		select {
		case <-w.woken:
			count++
		default:
		}
	}
	if count != 2 {
		t.Fatalf("expected exactly 2 waiters actually woken, got %d", count)
	}

	// The remaining waiter should still be queued; wake it to drain the bucket.
	Wake(key, 0, 1)
}

func TestWakeDoesNotMatchDifferentKey(t *testing.T) {
	keyA := Key{Kind: KeyPrivate, Addr: 0x5000, TID: 5}
	keyB := Key{Kind: KeyPrivate, Addr: 0x6000, TID: 5}
	w := newFakeWaiter(5)
	go func() { <-w.schedCh }()

	if err := Wait(keyA, w, 1, 0, func() uint32 { return 1 }); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if woken := Wake(keyB, 0, 1); woken != 0 {
		t.Fatalf("expected 0 woken for unrelated key, got %d", woken)
	}
	Wake(keyA, 0, 1)
}

func TestRequeueMovesRemainingWaitersWithoutWaking(t *testing.T) {
	from := Key{Kind: KeyPrivate, Addr: 0x7000, TID: 7}
	to := Key{Kind: KeyPrivate, Addr: 0x8000, TID: 7}

	waiters := make([]*fakeWaiter, 3)
	for i := range waiters {
		waiters[i] = newFakeWaiter(i)
		go func(w *fakeWaiter) { <-w.schedCh }(waiters[i])
		if err := Wait(from, waiters[i], 1, 0, func() uint32 { return 1 }); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}

	woken, requeued := Requeue(from, to, 1, 10)
	if woken != 1 {
		t.Fatalf("expected 1 woken, got %d", woken)
	}
	if requeued != 2 {
		t.Fatalf("expected 2 requeued, got %d", requeued)
	}

	wokenCount := 0
	for _, w := range waiters {
		select {
		case <-w.woken:
			wokenCount++
		default:
		}
	}
	if wokenCount != 1 {
		t.Fatalf("expected exactly 1 waiter woken by Requeue, got %d", wokenCount)
	}

	// The requeued waiters now wake from `to`.
	if remaining := Wake(to, 0, 10); remaining != 2 {
		t.Fatalf("expected 2 waiters requeued onto `to`, got %d", remaining)
	}
}

func TestWaitCheckThenSleepRaceIsSafe(t *testing.T) {
	key := Key{Kind: KeyShared, Addr: 0x9000}
	var value atomic.Uint32
	value.Store(1)

	const n = 8
	var wg sync.WaitGroup
	waiters := make([]*fakeWaiter, n)
	for i := 0; i < n; i++ {
		waiters[i] = newFakeWaiter(i)
		go func(w *fakeWaiter) { <-w.schedCh }(waiters[i])
	}

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(w *fakeWaiter) {
			defer wg.Done()
			Wait(key, w, 1, 0, func() uint32 { return value.Load() })
		}(waiters[i])
	}
	wg.Wait()

	value.Store(2)
	woken := Wake(key, 0, n)
	if woken != n {
		t.Fatalf("expected all %d waiters woken, got %d", n, woken)
	}
}
