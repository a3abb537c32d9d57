package net

import (
	"sync"
	"testing"
	"time"

	"kcore/errors"
	"kcore/timer"
	"kcore/vfs"
)

// queueSocket is a minimal Socket test double with an in-memory receive
// queue, standing in for a real family socket in poll/recvmmsg tests.
type queueSocket struct {
	Base
	mu    sync.Mutex
	queue [][]byte
}

func newQueueSocket() *queueSocket {
	return &queueSocket{Base: NewBase(FamilyInet, SockDgram)}
}

func (s *queueSocket) push(data []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	s.SetReady(vfs.PollIn)
}

func (s *queueSocket) Poll(events vfs.PollMask) vfs.PollMask {
	s.mu.Lock()
	empty := len(s.queue) == 0
	s.mu.Unlock()
	if empty {
		s.ClearReady(vfs.PollIn)
	}
	return s.Base.Poll(events)
}

func (s *queueSocket) RecvFrom(buf []byte) (int, Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, Endpoint{}, errors.ErrWouldBlock
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	n := copy(buf, d)
	return n, Endpoint{}, nil
}

func (s *queueSocket) Recv(buf []byte) (int, error) {
	n, _, err := s.RecvFrom(buf)
	return n, err
}

func TestPollReturnsImmediatelyWhenAlreadyReady(t *testing.T) {
	s := newQueueSocket()
	s.push([]byte("x"))

	n, _, err := Poll([]*PollEntry{{Socket: s, Events: vfs.PollIn}}, 0)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 ready entry, got n=%d err=%v", n, err)
	}
}

func TestPollNonBlockingReturnsZeroWhenNotReady(t *testing.T) {
	s := newQueueSocket()
	n, _, err := Poll([]*PollEntry{{Socket: s, Events: vfs.PollIn}}, 0)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 ready entries, got n=%d err=%v", n, err)
	}
}

func TestPollBlocksUntilSocketBecomesReady(t *testing.T) {
	s := newQueueSocket()
	done := make(chan int, 1)
	go func() {
		n, _, _ := Poll([]*PollEntry{{Socket: s, Events: vfs.PollIn}}, timer.MaxJiffies)
		done <- n
	}()

	time.Sleep(20 * time.Millisecond)
	s.push([]byte("late"))

	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("expected 1 ready entry, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll never returned after socket became ready")
	}
}

func TestSelectSplitsReadyByDirection(t *testing.T) {
	readable := newQueueSocket()
	readable.push([]byte("x"))
	idle := newQueueSocket()

	readyRead, readyWrite, _, _, err := Select([]Socket{readable, idle}, nil, nil, 0)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(readyRead) != 1 || readyRead[0] != Socket(readable) {
		t.Fatalf("expected only readable socket ready for read, got %v", readyRead)
	}
	if len(readyWrite) != 0 {
		t.Fatalf("expected no write-ready sockets, got %v", readyWrite)
	}
}

func TestRecvMMsgStopsAtFirstWouldBlockWithoutWaiting(t *testing.T) {
	s := newQueueSocket()
	s.push([]byte("one"))
	s.push([]byte("two"))

	bufs := make([][]byte, 4)
	for i := range bufs {
		bufs[i] = make([]byte, 8)
	}
	results, _, err := RecvMMsg(s, bufs, 0)
	if err != nil {
		t.Fatalf("RecvMMsg failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 messages received, got %d", len(results))
	}
	if string(bufs[0][:results[0].N]) != "one" || string(bufs[1][:results[1].N]) != "two" {
		t.Fatalf("unexpected payloads: %q %q", bufs[0][:results[0].N], bufs[1][:results[1].N])
	}
}

func TestRecvMMsgFirstMessageBlocksThenSucceeds(t *testing.T) {
	s := newQueueSocket()
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.push([]byte("late"))
	}()

	bufs := [][]byte{make([]byte, 8)}
	done := make(chan []RecvMMsgResult, 1)
	go func() {
		results, _, _ := RecvMMsg(s, bufs, timer.MaxJiffies)
		done <- results
	}()

	select {
	case results := <-done:
		if len(results) != 1 || string(bufs[0][:results[0].N]) != "late" {
			t.Fatalf("unexpected result: %+v buf=%q", results, bufs[0])
		}
	case <-time.After(time.Second):
		t.Fatal("RecvMMsg never returned")
	}
}
