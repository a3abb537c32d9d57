package ksyscall

import "kcore/errors"

// UserBuffer stands in for copy_to_user/copy_from_user: since this
// core has no real user address space to fault pages into, a syscall's
// user-supplied buffer is just a byte slice the caller already holds
// (the simulated equivalent of a validated user pointer plus length).
// CopyIn/CopyOut exist anyway, rather than letting handlers touch the
// slice directly, so every handler goes through the same bounds check
// and reports BadAddress for an offset outside the buffer, instead of
// letting a Go slice-bounds panic reach the dispatcher. A range that
// runs past the end of the buffer is copied partially and the copied
// count returned.
type UserBuffer struct {
	data []byte
}

// NewUserBuffer wraps a caller-owned byte slice as a user buffer.
func NewUserBuffer(data []byte) UserBuffer {
	return UserBuffer{data: data}
}

// Len reports the buffer's length.
func (u UserBuffer) Len() int { return len(u.data) }

// Bytes returns the underlying slice directly, for handlers (like
// read/recv) that hand it straight to a facade's []byte-based API.
func (u UserBuffer) Bytes() []byte { return u.data }

// CopyOut writes src into the user buffer starting at offset, the
// kernel-to-user direction (e.g. read() landing data for the caller).
func (u UserBuffer) CopyOut(offset int, src []byte) (int, error) {
	if offset < 0 || offset > len(u.data) {
		return 0, errors.New(errors.BadAddress, "ksyscall", "copy_out", "offset outside user buffer")
	}
	n := copy(u.data[offset:], src)
	return n, nil
}

// CopyIn reads up to len(dst) bytes from the user buffer starting at
// offset, the user-to-kernel direction (e.g. write() reading the
// caller's payload).
func (u UserBuffer) CopyIn(offset int, dst []byte) (int, error) {
	if offset < 0 || offset > len(u.data) {
		return 0, errors.New(errors.BadAddress, "ksyscall", "copy_in", "offset outside user buffer")
	}
	n := copy(dst, u.data[offset:])
	return n, nil
}
