package eventfd

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"kcore/errors"
	"kcore/vfs"
)

func u64buf(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func TestReadDrainsCounterWithoutSemaphoreFlag(t *testing.T) {
	e := New(5, 0)
	buf := make([]byte, 8)
	n, err := e.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != 8 || binary.LittleEndian.Uint64(buf) != 5 {
		t.Fatalf("expected to read 5, got %d", binary.LittleEndian.Uint64(buf))
	}
	if e.count != 0 {
		t.Fatalf("expected counter drained to 0, got %d", e.count)
	}
}

func TestReadWithSemaphoreFlagDecrementsByOne(t *testing.T) {
	e := New(3, Semaphore)
	buf := make([]byte, 8)

	n, err := e.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != 8 || binary.LittleEndian.Uint64(buf) != 1 {
		t.Fatalf("expected semaphore read to return 1, got %d", binary.LittleEndian.Uint64(buf))
	}
	if e.count != 2 {
		t.Fatalf("expected counter decremented to 2, got %d", e.count)
	}
}

func TestReadOnZeroCounterNonblockReturnsWouldBlock(t *testing.T) {
	e := New(0, NonBlock)
	_, err := e.ReadAt(make([]byte, 8), 0)
	if !errors.IsKind(err, errors.Again) {
		t.Fatalf("expected Again, got %v", err)
	}
}

func TestReadBlocksUntilWriteMakesCounterNonzero(t *testing.T) {
	e := New(0, 0)
	done := make(chan uint64, 1)
	go func() {
		buf := make([]byte, 8)
		e.ReadAt(buf, 0)
		done <- binary.LittleEndian.Uint64(buf)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := e.WriteAt(u64buf(7), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	select {
	case v := <-done:
		if v != 7 {
			t.Fatalf("expected blocked read to observe 7, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read never returned")
	}
}

func TestWriteRejectsMaxUint64(t *testing.T) {
	e := New(0, 0)
	_, err := e.WriteAt(u64buf(math.MaxUint64), 0)
	if !errors.IsKind(err, errors.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestWriteNonblockFailsOnOverflow(t *testing.T) {
	e := New(math.MaxUint64-1, NonBlock)
	_, err := e.WriteAt(u64buf(5), 0)
	if !errors.IsKind(err, errors.Again) {
		t.Fatalf("expected Again on overflow, got %v", err)
	}
}

func TestReadAndWriteRejectShortBuffer(t *testing.T) {
	e := New(1, 0)
	if _, err := e.ReadAt(make([]byte, 4), 0); !errors.IsKind(err, errors.Invalid) {
		t.Fatalf("expected Invalid for short read buffer, got %v", err)
	}
	if _, err := e.WriteAt(make([]byte, 4), 0); !errors.IsKind(err, errors.Invalid) {
		t.Fatalf("expected Invalid for short write buffer, got %v", err)
	}
}

func TestPollReportsInWhenNonzero(t *testing.T) {
	e := New(1, 0)
	mask := e.Poll(vfs.PollIn | vfs.PollOut)
	if mask&vfs.PollIn == 0 {
		t.Fatal("expected PollIn ready when counter is nonzero")
	}
	if mask&vfs.PollOut == 0 {
		t.Fatal("expected PollOut ready when counter is far from overflow")
	}
}

func TestPollReportsNoInWhenZero(t *testing.T) {
	e := New(0, 0)
	mask := e.Poll(vfs.PollIn | vfs.PollOut)
	if mask&vfs.PollIn != 0 {
		t.Fatal("expected PollIn not ready when counter is zero")
	}
}

func TestIoctlAndMmapAreNotPermitted(t *testing.T) {
	e := New(0, 0)
	if _, err := e.Ioctl(0, 0); !errors.IsKind(err, errors.NotPermitted) {
		t.Fatalf("expected NotPermitted for Ioctl, got %v", err)
	}
	if _, err := e.Mmap(0, 4096); !errors.IsKind(err, errors.NotPermitted) {
		t.Fatalf("expected NotPermitted for Mmap, got %v", err)
	}
}

func TestListFailsNotADirectory(t *testing.T) {
	e := New(0, 0)
	if _, err := e.List(); err != vfs.ErrNotADirectory {
		t.Fatalf("expected ErrNotADirectory, got %v", err)
	}
}
