//go:build linux

package eventfd

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

func TestHostBackedWriteThenRead(t *testing.T) {
	h, err := NewHostBacked(0, unix.EFD_NONBLOCK)
	if err != nil {
		t.Fatalf("NewHostBacked failed: %v", err)
	}
	defer h.Close()

	if _, err := h.Write(u64buf(3)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	buf := make([]byte, 8)
	n, err := h.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 8 || binary.LittleEndian.Uint64(buf) != 3 {
		t.Fatalf("expected to read back 3, got %d", binary.LittleEndian.Uint64(buf))
	}
}

func TestHostBackedNonblockReadOnEmptyFails(t *testing.T) {
	h, err := NewHostBacked(0, unix.EFD_NONBLOCK)
	if err != nil {
		t.Fatalf("NewHostBacked failed: %v", err)
	}
	defer h.Close()

	if _, err := h.Read(make([]byte, 8)); err == nil {
		t.Fatal("expected EAGAIN reading an empty nonblocking eventfd")
	}
}
