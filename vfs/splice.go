package vfs

import (
	"kcore/errors"
)

const spliceBufferSize = 64 * 1024

func isFIFO(f *File) bool { return f.Inode.Metadata().Kind == KindFIFO }

// Splice moves up to count bytes between src and dst without the
// caller supplying an intermediate user-space buffer. Per §4.8, at
// least one endpoint must be a pipe (KindFIFO); splicing between two
// regular files is rejected the same way the real syscall rejects it.
func Splice(src *File, dst *File, count int64) (int64, error) {
	if !isFIFO(src) && !isFIFO(dst) {
		return 0, errors.ErrSpliceEndpoint
	}
	return transfer(src, dst, count, true)
}

// Tee duplicates up to count bytes from one pipe to another without
// consuming them from src, requiring both endpoints to be pipes.
func Tee(src *File, dst *File, count int64) (int64, error) {
	if !isFIFO(src) || !isFIFO(dst) {
		return 0, errors.ErrSpliceEndpoint
	}
	return transfer(src, dst, count, false)
}

// Sendfile copies up to count bytes from src to dst's current offset,
// the conventional file-to-socket (or file-to-file) fast path; unlike
// Splice it does not require a pipe endpoint.
func Sendfile(src *File, srcOffset int64, dst *File, count int64) (int64, error) {
	var total int64
	buf := make([]byte, spliceBufferSize)
	for total < count {
		chunk := int64(len(buf))
		if remaining := count - total; remaining < chunk {
			chunk = remaining
		}
		n, rerr := src.Inode.ReadAt(buf[:chunk], srcOffset+total)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, errors.Wrap(err, errors.Io, "vfs", "sendfile")
			}
			total += int64(n)
		}
		if rerr != nil || n == 0 {
			break
		}
	}
	return total, nil
}

// transfer implements the shared Splice/Tee byte-moving loop; consume
// controls whether src's read cursor advances (Splice) or not (Tee,
// which peeks without draining the pipe).
func transfer(src, dst *File, count int64, consume bool) (int64, error) {
	var total int64
	buf := make([]byte, spliceBufferSize)
	srcOffset := int64(0)
	if consume {
		src.mu.Lock()
		srcOffset = src.Offset
		src.mu.Unlock()
	}
	for total < count {
		chunk := int64(len(buf))
		if remaining := count - total; remaining < chunk {
			chunk = remaining
		}
		n, rerr := src.Inode.ReadAt(buf[:chunk], srcOffset+total)
		if n > 0 {
			wn, werr := dst.Inode.WriteAt(buf[:n], 0)
			total += int64(wn)
			if werr != nil {
				return total, errors.Wrap(werr, errors.Io, "vfs", "splice")
			}
		}
		if rerr != nil || n == 0 {
			break
		}
	}
	if consume {
		src.mu.Lock()
		src.Offset = srcOffset + total
		src.mu.Unlock()
	}
	return total, nil
}
