// Package netlink implements the Netlink address family of spec.md
// §4.12: a per-namespace table of (protocol → ProtocolSocketTable),
// where each protocol's table maps a unicast port to its receiving
// socket and a multicast group id to the set of sockets that joined
// it. bind() allocates an ephemeral port when the caller asks for
// port 0; send() dispatches to the matching unicast receiver or to
// every member of a multicast group.
package netlink

import (
	"sync"

	"kcore/errors"
	net "kcore/net"
	"kcore/vfs"
)

const (
	ephemeralLow  = 49152
	ephemeralHigh = 65535
)

// GroupAddr is the sentinel Endpoint.Addr value SendTo treats as
// "deliver to every member of the multicast group named by Endpoint.Port"
// rather than "deliver to the unicast socket bound at that port".
const GroupAddr = "group"

// ProtocolSocketTable is the per-protocol routing table described in
// spec.md §4.12: unicast port to receiver, multicast group to members.
type ProtocolSocketTable struct {
	mu       sync.Mutex
	unicast  map[uint32]*Socket
	groups   map[uint32]map[*Socket]struct{}
	nextPort uint32
}

func newProtocolSocketTable() *ProtocolSocketTable {
	return &ProtocolSocketTable{
		unicast:  map[uint32]*Socket{},
		groups:   map[uint32]map[*Socket]struct{}{},
		nextPort: ephemeralLow,
	}
}

// namespace is the per-namespace (protocol → ProtocolSocketTable) map;
// namespace isolation itself is out of this package's scope (process's
// namespace core owns that), so a single process-wide instance stands
// in for "the current namespace's table" until a namespace handle is
// threaded through.
var (
	nsMu   sync.Mutex
	nsByProto = map[int]*ProtocolSocketTable{}
)

func tableFor(proto int) *ProtocolSocketTable {
	nsMu.Lock()
	defer nsMu.Unlock()
	t, ok := nsByProto[proto]
	if !ok {
		t = newProtocolSocketTable()
		nsByProto[proto] = t
	}
	return t
}

// Socket is a netlink socket bound to a single protocol (NETLINK_ROUTE,
// NETLINK_AUDIT, ...), a unicast port within that protocol's table, and
// zero or more multicast groups it has joined.
type Socket struct {
	net.Base
	proto  int
	table  *ProtocolSocketTable
	port   uint32
	groups map[uint32]struct{}
	mu     sync.Mutex
	queue  [][]byte
	wake   chan struct{}
}

// NewSocket creates an unbound netlink socket scoped to proto.
func NewSocket(proto int) *Socket {
	return &Socket{
		Base:   net.NewBase(net.FamilyNetlink, net.SockRaw),
		proto:  proto,
		table:  tableFor(proto),
		groups: map[uint32]struct{}{},
		wake:   make(chan struct{}, 1),
	}
}

// Bind assigns the socket its unicast port, allocating an ephemeral one
// when ep.Port is 0, mirroring bind(2)'s nl_pid field. Multicast group
// membership is joined separately via JoinGroup, the NETLINK_ADD_
// MEMBERSHIP setsockopt's equivalent rather than bind(2)'s legacy
// nl_groups bitmask, since a socket may join more than 32 groups.
func (s *Socket) Bind(ep net.Endpoint) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	port := ep.Port
	if port == 0 {
		p, err := t.allocPortLocked()
		if err != nil {
			return err
		}
		port = p
	} else if _, taken := t.unicast[port]; taken {
		return errors.ErrAddressInUse
	}
	t.unicast[port] = s
	s.port = port
	s.SetLocal(net.Endpoint{Port: port})
	s.SetState(net.Bound)
	return nil
}

// JoinGroup adds the socket to a multicast group's membership set;
// LeaveGroup removes it.
func (s *Socket) JoinGroup(group uint32) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.groups[group]
	if !ok {
		members = map[*Socket]struct{}{}
		t.groups[group] = members
	}
	members[s] = struct{}{}
	s.groups[group] = struct{}{}
	return nil
}

func (s *Socket) LeaveGroup(group uint32) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups[group], s)
	delete(s.groups, group)
	return nil
}

func (t *ProtocolSocketTable) allocPortLocked() (uint32, error) {
	start := t.nextPort
	for {
		port := t.nextPort
		t.nextPort++
		if t.nextPort > ephemeralHigh {
			t.nextPort = ephemeralLow
		}
		if _, taken := t.unicast[port]; !taken {
			return port, nil
		}
		if t.nextPort == start {
			return 0, errors.ErrPortSpaceExhausted
		}
	}
}

// SendTo dispatches to every member of the multicast group named by
// to.Port when to.Addr is GroupAddr, otherwise to the unicast receiver
// bound at to.Port.
func (s *Socket) SendTo(buf []byte, to net.Endpoint) (int, error) {
	cp := append([]byte(nil), buf...)
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if to.Addr == GroupAddr {
		members := t.groups[to.Port]
		for member := range members {
			member.deliver(cp)
		}
		return len(buf), nil
	}
	dst, found := t.unicast[to.Port]
	if !found {
		return 0, errors.New(errors.NotConnected, "netlink", "sendto", "no socket bound to that port")
	}
	dst.deliver(cp)
	return len(buf), nil
}

func (s *Socket) Send(buf []byte) (int, error) {
	remote, ok := s.RemoteEndpoint()
	if !ok {
		return 0, errors.ErrSocketNotConnected
	}
	return s.SendTo(buf, remote)
}

func (s *Socket) deliver(msg []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.SetReady(vfs.PollIn)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Socket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.ClearReady(vfs.PollIn)
			}
			s.mu.Unlock()
			n := copy(buf, msg)
			return n, net.Endpoint{Port: s.port}, nil
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *Socket) Recv(buf []byte) (int, error) {
	n, _, err := s.RecvFrom(buf)
	return n, err
}

func (s *Socket) Close() error {
	t := s.table
	t.mu.Lock()
	if t.unicast[s.port] == s {
		delete(t.unicast, s.port)
	}
	for group := range s.groups {
		delete(t.groups[group], s)
	}
	t.mu.Unlock()
	return s.Base.Close()
}
