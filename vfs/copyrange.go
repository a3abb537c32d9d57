package vfs

import (
	"kcore/errors"
)

// copyBufferSize bounds a single ReadAt/WriteAt pair inside CopyFileRange,
// matching the conventional "stream through a bounded buffer" approach
// rather than requiring backends to support a zero-copy fast path.
const copyBufferSize = 64 * 1024

// CopyFileRange implements copy_file_range(2): copy up to count bytes
// from src at srcOffset to dst at dstOffset, returning bytes copied. Per
// §4.8, self-overlapping ranges on the same inode are rejected, and a
// copy across mismatched inode kinds (e.g. regular file to device) is
// rejected as a cross-device copy.
func CopyFileRange(src *File, srcOffset int64, dst *File, dstOffset int64, count int64) (int64, error) {
	if src.Inode == dst.Inode {
		srcEnd := srcOffset + count
		dstEnd := dstOffset + count
		if srcOffset < dstEnd && dstOffset < srcEnd {
			return 0, errors.New(errors.Invalid, "vfs", "copy_file_range", "source and destination ranges overlap")
		}
	}
	if src.Inode.Metadata().Kind != dst.Inode.Metadata().Kind {
		return 0, errors.ErrCrossDeviceCopy
	}

	var total int64
	buf := make([]byte, copyBufferSize)
	for total < count {
		chunk := int64(len(buf))
		if remaining := count - total; remaining < chunk {
			chunk = remaining
		}
		n, err := src.Inode.ReadAt(buf[:chunk], srcOffset+total)
		if n > 0 {
			wn, werr := dst.Inode.WriteAt(buf[:n], dstOffset+total)
			total += int64(wn)
			if werr != nil {
				return total, errors.Wrap(werr, errors.Io, "vfs", "copy_file_range")
			}
			if wn < n {
				return total, nil
			}
		}
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, errors.Wrap(err, errors.Io, "vfs", "copy_file_range")
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
