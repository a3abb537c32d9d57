// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Process lifecycle errors.
var (
	// ErrTaskNotFound indicates the task does not exist in the global task set.
	ErrTaskNotFound = &KernelError{
		Subsystem: "process",
		Kind:      NotFound,
		Detail:    "task not found",
	}

	// ErrTaskExists indicates a PID is already in use.
	ErrTaskExists = &KernelError{
		Subsystem: "process",
		Kind:      Exists,
		Detail:    "task already exists",
	}

	// ErrNoChildren indicates wait4 was called with no children present.
	ErrNoChildren = &KernelError{
		Subsystem: "process",
		Kind:      NotFound,
		Detail:    "no child processes",
	}

	// ErrNotBlocked indicates wakeup() was called on a task that isn't Blocked.
	ErrNotBlocked = &KernelError{
		Subsystem: "sched",
		Kind:      Invalid,
		Detail:    "wakeup on non-blocked task",
	}

	// ErrTaskExited indicates an operation was attempted on an already-exited task.
	ErrTaskExited = &KernelError{
		Subsystem: "process",
		Kind:      Invalid,
		Detail:    "task has already exited",
	}
)

// Synchronization errors.
var (
	// ErrTryLock indicates a non-blocking lock acquisition failed.
	ErrTryLock = &KernelError{
		Subsystem: "ksync",
		Kind:      Again,
		Detail:    "lock held",
	}

	// ErrWouldBlock indicates a non-blocking operation would have to wait.
	ErrWouldBlock = &KernelError{
		Subsystem: "ksync",
		Kind:      Again,
		Detail:    "operation would block",
	}
)

// Address space / memory errors.
var (
	// ErrSegvMapErr indicates a fault address has no covering VMA.
	ErrSegvMapErr = &KernelError{
		Subsystem: "mm",
		Kind:      Invalid,
		Detail:    "SEGV_MAPERR: no mapping for address",
	}

	// ErrSegvAccErr indicates a fault violated the covering VMA's permissions.
	ErrSegvAccErr = &KernelError{
		Subsystem: "mm",
		Kind:      AccessDenied,
		Detail:    "SEGV_ACCERR: permission mismatch",
	}

	// ErrOutOfMemory indicates frame allocation failed.
	ErrOutOfMemory = &KernelError{
		Subsystem: "mm",
		Kind:      NoMemory,
		Detail:    "frame allocator exhausted",
	}
)

// VFS / flock errors.
var (
	// ErrNotAFlockTarget indicates flock was attempted on an inode kind that
	// does not support advisory locking.
	ErrNotAFlockTarget = &KernelError{
		Subsystem: "vfs",
		Kind:      Invalid,
		Detail:    "inode does not support flock",
	}

	// ErrCrossDeviceCopy indicates copy_file_range crossed inode types.
	ErrCrossDeviceCopy = &KernelError{
		Subsystem: "vfs",
		Kind:      Invalid,
		Detail:    "copy_file_range: mismatched inode types",
	}

	// ErrSpliceEndpoint indicates neither splice endpoint is a pipe.
	ErrSpliceEndpoint = &KernelError{
		Subsystem: "vfs",
		Kind:      Invalid,
		Detail:    "splice requires at least one pipe endpoint",
	}

	// ErrBrokenPipe indicates a write to a pipe with no readers left.
	ErrBrokenPipe = &KernelError{
		Subsystem: "pipe",
		Kind:      Pipe,
		Detail:    "write to pipe with no readers",
	}

	// ErrSelfOverlap indicates copy_file_range source/destination ranges overlap.
	ErrSelfOverlap = &KernelError{
		Subsystem: "vfs",
		Kind:      Invalid,
		Detail:    "copy_file_range: overlapping ranges on same inode",
	}

	// ErrFileTooBig indicates an RLIMIT_FSIZE violation.
	ErrFileTooBig = &KernelError{
		Subsystem: "vfs",
		Kind:      NoSpace,
		Detail:    "RLIMIT_FSIZE exceeded",
	}
)

// Block/IO errors.
var (
	// ErrDiskNotRegistered indicates an unregistered gendisk was referenced.
	ErrDiskNotRegistered = &KernelError{
		Subsystem: "block",
		Kind:      NoDevice,
		Detail:    "gendisk not registered",
	}

	// ErrRequestQueueFull indicates a disk's waiting queue is saturated.
	ErrRequestQueueFull = &KernelError{
		Subsystem: "block",
		Kind:      InUse,
		Detail:    "request queue full",
	}
)

// Futex errors.
var (
	// ErrFutexMismatch indicates the user value did not match the expected value.
	ErrFutexMismatch = &KernelError{
		Subsystem: "futex",
		Kind:      Again,
		Detail:    "futex value mismatch",
	}

	// ErrFutexTimedOut indicates a futex wait deadline elapsed.
	ErrFutexTimedOut = &KernelError{
		Subsystem: "futex",
		Kind:      Again,
		Detail:    "futex wait timed out",
	}

	// ErrFutexMisaligned indicates a futex address failed alignment validation.
	ErrFutexMisaligned = &KernelError{
		Subsystem: "futex",
		Kind:      Invalid,
		Detail:    "futex address not naturally aligned",
	}
)

// Net socket errors.
var (
	// ErrSocketNotConnected indicates an operation required a connected socket.
	ErrSocketNotConnected = &KernelError{
		Subsystem: "net",
		Kind:      NotConnected,
		Detail:    "socket not connected",
	}

	// ErrSocketAlreadyConnected indicates connect() was called twice.
	ErrSocketAlreadyConnected = &KernelError{
		Subsystem: "net",
		Kind:      AlreadyConnected,
		Detail:    "socket already connected",
	}

	// ErrAddressInUse indicates bind() targeted an endpoint already in use.
	ErrAddressInUse = &KernelError{
		Subsystem: "net",
		Kind:      InUse,
		Detail:    "address already in use",
	}

	// ErrPortSpaceExhausted indicates the ephemeral port range has no free ports.
	ErrPortSpaceExhausted = &KernelError{
		Subsystem: "net",
		Kind:      NoSpace,
		Detail:    "ephemeral port space exhausted",
	}
)
