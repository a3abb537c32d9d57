package process

import (
	"sync/atomic"
)

// Capability names a POSIX capability bit, generalized from
// linux/capabilities.go's CAP_* table into an internal credential set
// rather than a real process's capability bitmask.
type Capability uint

const (
	CapChown Capability = iota
	CapDACOverride
	CapDACReadSearch
	CapFowner
	CapFsetid
	CapKill
	CapSetgid
	CapSetuid
	CapSetpcap
	CapLinuxImmutable
	CapNetBindService
	CapNetBroadcast
	CapNetAdmin
	CapNetRaw
	CapIPCLock
	CapIPCOwner
	CapSysModule
	CapSysRawio
	CapSysChroot
	CapSysPtrace
	CapSysPacct
	CapSysAdmin
	CapSysBoot
	CapSysNice
	CapSysResource
	CapSysTime
	CapSysTTYConfig
	CapMknod
	CapLease
	CapAuditWrite
	CapAuditControl
	CapSetfcap
	capMax
)

// CapSet is a bitset over Capability values.
type CapSet uint64

// Has reports whether c is a member of s.
func (s CapSet) Has(c Capability) bool { return s&(1<<c) != 0 }

// With returns s with c added.
func (s CapSet) With(c Capability) CapSet { return s | (1 << c) }

// Without returns s with c removed.
func (s CapSet) Without(c Capability) CapSet { return s &^ (1 << c) }

// AllCapabilities is the full capability set, the ambient-set default for
// a namespace's init task.
var AllCapabilities = func() CapSet {
	var s CapSet
	for c := Capability(0); c < capMax; c++ {
		s = s.With(c)
	}
	return s
}()

// Credentials is a task's security identity: uid/gid plus the four
// capability sets, generalized from linux/capabilities.go's bit
// arithmetic into the kernel's own internal credential object rather
// than manipulation of a real process's capability state via capset(2).
// Credentials are published immutably; a change replaces the whole
// object via an atomic swap (§3's "mutation replaces the whole object
// atomically").
type Credentials struct {
	UID, GID       uint32
	Effective      CapSet
	Permitted      CapSet
	Inheritable    CapSet
	Ambient        CapSet
}

// RootCredentials returns the credentials of the namespace init task:
// uid/gid 0 with every capability in every set.
func RootCredentials() *Credentials {
	return &Credentials{
		UID: 0, GID: 0,
		Effective:   AllCapabilities,
		Permitted:   AllCapabilities,
		Inheritable: AllCapabilities,
		Ambient:     AllCapabilities,
	}
}

// CredHolder atomically publishes and swaps a task's Credentials.
type CredHolder struct {
	v atomic.Value // *Credentials
}

// NewCredHolder creates a holder published with initial creds.
func NewCredHolder(initial *Credentials) *CredHolder {
	h := &CredHolder{}
	h.v.Store(initial)
	return h
}

// Get returns the currently published credentials.
func (h *CredHolder) Get() *Credentials {
	return h.v.Load().(*Credentials)
}

// Swap atomically publishes next as the new credentials, returning the
// previous value.
func (h *CredHolder) Swap(next *Credentials) *Credentials {
	prev := h.v.Load().(*Credentials)
	h.v.Store(next)
	return prev
}

// HasCapability reports whether c is present in the effective set.
func (c *Credentials) HasCapability(cap Capability) bool {
	return c.Effective.Has(cap)
}

// DropCapability returns a copy of c with cap removed from all four
// sets, the shape of a permanent capability drop (e.g. after exec of an
// unprivileged binary).
func (c *Credentials) DropCapability(cap Capability) *Credentials {
	next := *c
	next.Effective = next.Effective.Without(cap)
	next.Permitted = next.Permitted.Without(cap)
	next.Inheritable = next.Inheritable.Without(cap)
	next.Ambient = next.Ambient.Without(cap)
	return &next
}
