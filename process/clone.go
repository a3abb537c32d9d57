package process

// CloneFlags selects which resources a forked child shares with its
// parent instead of copying, generalized from linux/namespace.go's
// CLONE_NEW* namespace flags into the full fork-sharing bitset described
// in spec.md §4.4 (VM, FS root/cwd, file table, signal handlers, thread
// group, parent, namespace).
type CloneFlags uint32

const (
	// CloneVM shares the address space with the parent; without it the
	// child gets a new, empty address space (ksyscall's cloneContext).
	CloneVM CloneFlags = 1 << iota
	// CloneFS shares the filesystem root/cwd table.
	CloneFS
	// CloneFiles shares the file descriptor table.
	CloneFiles
	// CloneSighand shares the signal handler table.
	CloneSighand
	// CloneThread puts the child in the parent's thread group instead of
	// starting a new one.
	CloneThread
	// CloneParent makes the child's parent the caller's own parent
	// rather than the caller.
	CloneParent
	// CloneNewNS gives the child a new mount namespace.
	CloneNewNS
	// CloneNewUTS gives the child a new UTS (hostname) namespace.
	CloneNewUTS
	// CloneNewIPC gives the child a new IPC namespace.
	CloneNewIPC
	// CloneNewPID gives the child a new PID namespace.
	CloneNewPID
	// CloneNewNet gives the child a new network namespace.
	CloneNewNet
	// CloneNewUser gives the child a new user namespace.
	CloneNewUser
)

// Has reports whether flag is set.
func (f CloneFlags) Has(flag CloneFlags) bool { return f&flag != 0 }
