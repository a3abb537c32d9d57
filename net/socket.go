// Package net implements the network-socket core described in
// SPEC_FULL.md's Net Socket section (spec.md §4.12): a family-agnostic
// Socket capability set, shared connection-state machine, and the
// readiness/wakeup plumbing every family (inet, unix, packet, netlink,
// vsock) builds on. It is grounded on the PollableInode shape already
// established by kcore/vfs and kcore/ipc/eventfd — poll/add-epitem/
// remove-epitem backed by a kcore/ksync.WaitQueue — generalized from a
// single inode to a socket's bind/connect/listen state machine.
package net

import (
	"kcore/errors"
	"kcore/ksync"
	"kcore/vfs"
)

// Family identifies an address family, per spec.md §4.12's "Inet, Unix,
// Packet, Netlink, Vsock" variant list.
type Family int

const (
	FamilyInet Family = iota
	FamilyUnix
	FamilyPacket
	FamilyNetlink
	FamilyVsock
)

// SockType identifies the transport discipline within a family.
type SockType int

const (
	SockStream SockType = iota
	SockDgram
	SockRaw
)

// State is a socket's connection-state machine position, per §4.12's
// "Unbound → Bound → Connected/Listening → Closed".
type State int

const (
	Unbound State = iota
	Bound
	Connected
	Listening
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Connected:
		return "connected"
	case Listening:
		return "listening"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Endpoint is a family-agnostic address: its meaning is interpreted by
// the owning family (host:port for inet, path or "\x00abstract" for
// unix, cid:port for vsock).
type Endpoint struct {
	Addr string
	Port uint32
}

// ShutdownHow mirrors shutdown(2)'s SHUT_RD/SHUT_WR/SHUT_RDWR.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Socket is the capability set every family's socket object implements,
// per spec.md §4.12's trait listing.
type Socket interface {
	Family() Family
	Type() SockType
	State() State

	Bind(Endpoint) error
	Listen(backlog int) error
	Accept() (Socket, error)
	Connect(Endpoint) error

	Send(buf []byte) (int, error)
	SendTo(buf []byte, to Endpoint) (int, error)
	Recv(buf []byte) (int, error)
	RecvFrom(buf []byte) (int, Endpoint, error)

	Shutdown(how ShutdownHow) error
	Close() error

	Option(level, name int) ([]byte, error)
	SetOption(level, name int, val []byte) error

	Poll(events vfs.PollMask) vfs.PollMask
	CheckIOEvent() vfs.PollMask

	LocalEndpoint() (Endpoint, bool)
	RemoteEndpoint() (Endpoint, bool)

	WaitQueue() *ksync.WaitQueue
}

// Base is the embeddable state every family socket shares: the
// state-machine position, bound/connected endpoints, and the wait
// queue + readiness mask that Poll/CheckIOEvent compute from. Families
// embed Base and override only the operations their transport
// discipline actually supports; unsupported operations fall through to
// Base's NotPermitted-returning stubs.
type Base struct {
	family Family
	typ    SockType
	state  State
	local  *Endpoint
	remote *Endpoint
	wq     *ksync.WaitQueue
	ready  vfs.PollMask
}

// NewBase initializes a Base in the Unbound state with a fresh wait
// queue, the state every socket starts in before bind()/connect().
func NewBase(family Family, typ SockType) Base {
	return Base{family: family, typ: typ, state: Unbound, wq: ksync.NewWaitQueue()}
}

func (b *Base) Family() Family { return b.family }
func (b *Base) Type() SockType { return b.typ }
func (b *Base) State() State   { return b.state }

// SetState transitions the socket's state-machine position; exported so
// family packages (a different Go package from net) can drive it.
func (b *Base) SetState(s State) { b.state = s }

func (b *Base) LocalEndpoint() (Endpoint, bool) {
	if b.local == nil {
		return Endpoint{}, false
	}
	return *b.local, true
}

func (b *Base) RemoteEndpoint() (Endpoint, bool) {
	if b.remote == nil {
		return Endpoint{}, false
	}
	return *b.remote, true
}

func (b *Base) SetLocal(e Endpoint)  { b.local = &e }
func (b *Base) SetRemote(e Endpoint) { b.remote = &e }

func (b *Base) WaitQueue() *ksync.WaitQueue { return b.wq }

// SetReady ORs mask into the readiness state and wakes anyone waiting,
// the "state transitions call wakeup_epoll" rule from §4.11/§4.12.
func (b *Base) SetReady(mask vfs.PollMask) {
	b.ready |= mask
	b.wq.WakeAll()
}

func (b *Base) ClearReady(mask vfs.PollMask) {
	b.ready &^= mask
}

// CheckIOEvent returns the socket's current readiness bitmask.
func (b *Base) CheckIOEvent() vfs.PollMask { return b.ready }

// Poll returns the subset of events currently ready.
func (b *Base) Poll(events vfs.PollMask) vfs.PollMask { return events & b.ready }

// Bind, Listen, Accept, Connect, Send*, Recv*, Shutdown default to
// NotPermitted; a family overrides the subset its SockType supports
// (e.g. net/unix's dgram socket never implements Listen/Accept).
func (b *Base) Bind(Endpoint) error               { return errUnsupported("bind") }
func (b *Base) Listen(int) error                  { return errUnsupported("listen") }
func (b *Base) Accept() (Socket, error)            { return nil, errUnsupported("accept") }
func (b *Base) Connect(Endpoint) error             { return errUnsupported("connect") }
func (b *Base) Send([]byte) (int, error)           { return 0, errUnsupported("send") }
func (b *Base) SendTo([]byte, Endpoint) (int, error) {
	return 0, errUnsupported("sendto")
}
func (b *Base) Recv([]byte) (int, error) { return 0, errUnsupported("recv") }
func (b *Base) RecvFrom([]byte) (int, Endpoint, error) {
	return 0, Endpoint{}, errUnsupported("recvfrom")
}
func (b *Base) Shutdown(ShutdownHow) error { return errUnsupported("shutdown") }
func (b *Base) Close() error               { b.SetState(Closed); b.wq.WakeAll(); return nil }

func (b *Base) Option(level, name int) ([]byte, error) {
	return nil, errUnsupported("getsockopt")
}
func (b *Base) SetOption(level, name int, val []byte) error {
	return errUnsupported("setsockopt")
}

func errUnsupported(op string) error {
	return errors.New(errors.NotPermitted, "net", op, "operation not supported by this socket type")
}
