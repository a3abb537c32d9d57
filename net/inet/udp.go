// Package inet implements the Inet address family (TCP/UDP/Raw) of
// spec.md §4.12's socket trait, grounded on kcore/net's shared Base
// state machine. There is no host networking stack underneath: sockets
// are delivered to each other entirely in-memory via a process-wide
// bind table, the same "simulate the kernel's own state, don't shell
// out to the real one" choice already made for kcore/vfs's mount
// namespace and kcore/block's device registry.
package inet

import (
	"fmt"
	"sync"

	"kcore/errors"
	net "kcore/net"
	"kcore/vfs"
)

const ephemeralLow = 49152
const ephemeralHigh = 65535

type addrKey struct {
	addr string
	port uint32
}

func (k addrKey) String() string { return fmt.Sprintf("%s:%d", k.addr, k.port) }

var (
	udpMu    sync.Mutex
	udpTable = map[addrKey]*UDPSocket{}
	udpNext  uint32 = ephemeralLow
)

type udpDatagram struct {
	data []byte
	from net.Endpoint
}

// UDPSocket is a connectionless datagram socket: Bind publishes it in
// the process-wide table, SendTo looks the destination up in that
// table and delivers directly into its receive queue.
type UDPSocket struct {
	net.Base
	mu    sync.Mutex
	queue []udpDatagram
	wake  chan struct{}
}

// NewUDPSocket creates an unbound UDP socket.
func NewUDPSocket() *UDPSocket {
	return &UDPSocket{Base: net.NewBase(net.FamilyInet, net.SockDgram), wake: make(chan struct{}, 1)}
}

func (s *UDPSocket) Bind(ep net.Endpoint) error {
	udpMu.Lock()
	defer udpMu.Unlock()
	key := addrKey{ep.Addr, ep.Port}
	if ep.Port == 0 {
		port, err := allocUDPPortLocked(ep.Addr)
		if err != nil {
			return err
		}
		key.port = port
		ep.Port = port
	} else if _, taken := udpTable[key]; taken {
		return errors.ErrAddressInUse
	}
	udpTable[key] = s
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

func allocUDPPortLocked(addr string) (uint32, error) {
	start := udpNext
	for {
		port := udpNext
		udpNext++
		if udpNext > ephemeralHigh {
			udpNext = ephemeralLow
		}
		if _, taken := udpTable[addrKey{addr, port}]; !taken {
			return port, nil
		}
		if udpNext == start {
			return 0, errors.ErrPortSpaceExhausted
		}
	}
}

// Connect binds an ephemeral local endpoint (if unbound) and fixes the
// default destination for subsequent Send calls, per §4.12's "connect
// binds ephemeral local if unbound" rule (stated there for raw sockets,
// applied the same way here for connected UDP).
func (s *UDPSocket) Connect(to net.Endpoint) error {
	if _, ok := s.LocalEndpoint(); !ok {
		if err := s.Bind(net.Endpoint{Addr: to.Addr}); err != nil {
			return err
		}
	}
	s.SetRemote(to)
	s.SetState(net.Connected)
	return nil
}

func (s *UDPSocket) Send(buf []byte) (int, error) {
	remote, ok := s.RemoteEndpoint()
	if !ok {
		return 0, errors.ErrSocketNotConnected
	}
	return s.SendTo(buf, remote)
}

func (s *UDPSocket) SendTo(buf []byte, to net.Endpoint) (int, error) {
	local, ok := s.LocalEndpoint()
	if !ok {
		if err := s.Bind(net.Endpoint{Addr: to.Addr}); err != nil {
			return 0, err
		}
		local, _ = s.LocalEndpoint()
	}
	udpMu.Lock()
	dst, found := udpTable[addrKey{to.Addr, to.Port}]
	udpMu.Unlock()
	if !found {
		// No listener: UDP send "succeeds" from the sender's point of
		// view, matching the real datagram fire-and-forget contract.
		return len(buf), nil
	}
	cp := append([]byte(nil), buf...)
	dst.deliver(udpDatagram{data: cp, from: local})
	return len(buf), nil
}

func (s *UDPSocket) deliver(d udpDatagram) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	s.SetReady(vfs.PollIn)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *UDPSocket) Recv(buf []byte) (int, error) {
	n, _, err := s.RecvFrom(buf)
	return n, err
}

func (s *UDPSocket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			d := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.ClearReady(vfs.PollIn)
			}
			s.mu.Unlock()
			n := copy(buf, d.data)
			return n, d.from, nil
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *UDPSocket) Close() error {
	if local, ok := s.LocalEndpoint(); ok {
		udpMu.Lock()
		delete(udpTable, addrKey{local.Addr, local.Port})
		udpMu.Unlock()
	}
	return s.Base.Close()
}
