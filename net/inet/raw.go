package inet

import (
	"sync"

	"kcore/errors"
	net "kcore/net"
	"kcore/vfs"
)

// RawSocket is an IPPROTO-scoped raw packet socket. There is no IP
// layer underneath to route through, so the only delivery this
// simulation can do faithfully is loopback: a packet sent to the
// socket's own bound address lands in its own receive queue, per
// spec.md §4.12's "optional loopback-delivery buffer for self-addressed
// raw packets". Anything addressed elsewhere is accepted and dropped,
// same as UDP's fire-and-forget send to an unknown destination.
type RawSocket struct {
	net.Base
	proto int
	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
}

// NewRawSocket creates an unbound raw socket scoped to the given
// IPPROTO_* protocol number.
func NewRawSocket(proto int) *RawSocket {
	return &RawSocket{Base: net.NewBase(net.FamilyInet, net.SockRaw), proto: proto, wake: make(chan struct{}, 1)}
}

func (s *RawSocket) Proto() int { return s.proto }

func (s *RawSocket) Bind(ep net.Endpoint) error {
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

// Connect binds an ephemeral local endpoint if unbound, so getsockname
// reports a routable local address, but never establishes a peer: raw
// sockets report NotConnected from RemoteEndpoint regardless.
func (s *RawSocket) Connect(to net.Endpoint) error {
	if _, ok := s.LocalEndpoint(); !ok {
		s.SetLocal(net.Endpoint{Addr: to.Addr})
	}
	s.SetState(net.Bound)
	return nil
}

// RemoteEndpoint always reports absent, matching getpeername's
// NotConnected-always contract for raw sockets.
func (s *RawSocket) RemoteEndpoint() (net.Endpoint, bool) { return net.Endpoint{}, false }

func (s *RawSocket) SendTo(buf []byte, to net.Endpoint) (int, error) {
	local, ok := s.LocalEndpoint()
	if ok && local.Addr == to.Addr {
		cp := append([]byte(nil), buf...)
		s.mu.Lock()
		s.queue = append(s.queue, cp)
		s.mu.Unlock()
		s.SetReady(vfs.PollIn)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return len(buf), nil
}

func (s *RawSocket) Send(buf []byte) (int, error) {
	local, ok := s.LocalEndpoint()
	if !ok {
		return 0, errors.ErrSocketNotConnected
	}
	return s.SendTo(buf, local)
}

func (s *RawSocket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	local, _ := s.LocalEndpoint()
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			d := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.ClearReady(vfs.PollIn)
			}
			s.mu.Unlock()
			n := copy(buf, d)
			return n, local, nil
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *RawSocket) Recv(buf []byte) (int, error) {
	n, _, err := s.RecvFrom(buf)
	return n, err
}
