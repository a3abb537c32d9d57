package vfs

import (
	"sort"
	"strings"
	"sync"

	"kcore/errors"
)

// Propagation mirrors the MS_PRIVATE/MS_SHARED/MS_SLAVE/MS_UNBINDABLE
// propagation classes from linux/rootfs.go's mountOptionFlags table,
// generalized from a syscall.Mount flag into a portable mount-namespace
// attribute, since this core never calls the host's mount(2).
type Propagation int

const (
	PropagationPrivate Propagation = iota
	PropagationShared
	PropagationSlave
	PropagationUnbindable
)

// MountFlags mirrors the read-only/nosuid/nodev/noexec family of
// per-mount attributes from linux/rootfs.go's MS_* constants.
type MountFlags uint32

const (
	MountReadOnly MountFlags = 1 << iota
	MountNoSUID
	MountNoDev
	MountNoExec
	MountBind
	MountRecursive
)

// Mount is one node in the mount tree: a root inode grafted at Path,
// with its own flags and propagation class, mirroring
// linux/rootfs.go's setupMounts/applyPropagation/bind-mount handling
// but operating purely on the in-memory inode graph this core defines.
type Mount struct {
	Path        string
	Root        Inode
	Flags       MountFlags
	Propagation Propagation
	DevID       uint64
	parent      *Mount
}

// Namespace is a task's mount namespace: an ordered set of Mounts
// forming the graft points visible under /. CloneNewNS gives a task its
// own copy; without it, tasks in the same namespace group share one.
type Namespace struct {
	mu     sync.RWMutex
	mounts []*Mount
}

// NewNamespace creates a namespace with root as the / mount.
func NewNamespace(root Inode, devID uint64) *Namespace {
	return &Namespace{mounts: []*Mount{{Path: "/", Root: root, DevID: devID}}}
}

// Mount grafts root at path. It returns errors.Exists if a mount
// already exists at exactly that path, mirroring the mkdir-then-mount
// sequence setupMounts performs per destination.
func (ns *Namespace) Mount(path string, root Inode, flags MountFlags, devID uint64) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	path = cleanMountPath(path)
	for _, m := range ns.mounts {
		if m.Path == path {
			return errors.New(errors.Exists, "vfs", "mount", "mount point already in use")
		}
	}
	ns.mounts = append(ns.mounts, &Mount{Path: path, Root: root, Flags: flags, DevID: devID})
	sort.Slice(ns.mounts, func(i, j int) bool { return len(ns.mounts[i].Path) < len(ns.mounts[j].Path) })
	return nil
}

// Bind grafts the inode currently resolved at src onto dst, the
// in-memory analogue of linux/rootfs.go's MS_BIND handling (no separate
// filesystem instance, just another name for the same inode subtree).
func (ns *Namespace) Bind(src, dst string, recursive bool) error {
	m, _, err := ns.Resolve(src)
	if err != nil {
		return err
	}
	flags := MountBind
	if recursive {
		flags |= MountRecursive
	}
	return ns.Mount(dst, m.Root, flags, m.DevID)
}

// Remount updates the flags of the mount exactly at path, the analogue
// of MS_REMOUNT.
func (ns *Namespace) Remount(path string, flags MountFlags) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	path = cleanMountPath(path)
	for _, m := range ns.mounts {
		if m.Path == path {
			m.Flags = flags
			return nil
		}
	}
	return errors.New(errors.NotFound, "vfs", "remount", "no mount at that path")
}

// SetPropagation sets the propagation class of the mount at path.
func (ns *Namespace) SetPropagation(path string, p Propagation) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	path = cleanMountPath(path)
	for _, m := range ns.mounts {
		if m.Path == path {
			m.Propagation = p
			return nil
		}
	}
	return errors.New(errors.NotFound, "vfs", "set_propagation", "no mount at that path")
}

// Unmount removes the mount exactly at path. / can never be unmounted.
func (ns *Namespace) Unmount(path string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	path = cleanMountPath(path)
	if path == "/" {
		return errors.New(errors.Invalid, "vfs", "unmount", "cannot unmount the root")
	}
	for i, m := range ns.mounts {
		if m.Path == path {
			ns.mounts = append(ns.mounts[:i], ns.mounts[i+1:]...)
			return nil
		}
	}
	return errors.New(errors.NotFound, "vfs", "unmount", "no mount at that path")
}

// Resolve finds the mount that covers path: the longest mounted prefix,
// mirroring how the kernel's path walk crosses mount points. It returns
// the mount and the remaining path relative to that mount's root.
func (ns *Namespace) Resolve(path string) (*Mount, string, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	path = cleanMountPath(path)

	var best *Mount
	for _, m := range ns.mounts {
		if m.Path == path || (m.Path == "/" ) || strings.HasPrefix(path, m.Path+"/") {
			if best == nil || len(m.Path) > len(best.Path) {
				best = m
			}
		}
	}
	if best == nil {
		return nil, "", errors.New(errors.NotFound, "vfs", "resolve", "no mount covers path")
	}
	rel := strings.TrimPrefix(path, best.Path)
	rel = strings.TrimPrefix(rel, "/")
	return best, rel, nil
}

// Fork returns a new namespace with the same mount list, the
// CloneNewNS-set behavior (share the parent's mounts by value so later
// mounts in either are isolated from each other, matching mount
// namespace copy-on-clone semantics without full structural sharing).
func (ns *Namespace) Fork() *Namespace {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	dup := &Namespace{mounts: make([]*Mount, len(ns.mounts))}
	copy(dup.mounts, ns.mounts)
	return dup
}

// Mounts returns a snapshot of the full mount list, ordered by path
// length, for diagnostics (cmd's `mounts` verb).
func (ns *Namespace) Mounts() []*Mount {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]*Mount, len(ns.mounts))
	copy(out, ns.mounts)
	return out
}

func cleanMountPath(path string) string {
	if path == "" {
		return "/"
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
