// Package vsock implements the Vsock address family of spec.md §4.12:
// global maps for listeners (by local endpoint), connecting sockets (by
// local endpoint), and connected sockets (by the (local, peer) pair),
// with an ephemeral port space in [49152, 65535] drawn round-robin and
// reference-counted so multiple accept-cloned sockets can share a
// listening port's refcount without tearing the listener down early.
package vsock

import (
	"sync"

	"kcore/errors"
	"kcore/ipc/pipe"
	net "kcore/net"
	"kcore/vfs"
)

const (
	ephemeralLow  = 49152
	ephemeralHigh = 65535
)

type pair struct {
	local, peer net.Endpoint
}

var (
	mu         sync.Mutex
	listeners  = map[uint32]*Socket{}   // by local CID:port
	connecting = map[uint32]*Socket{}   // by local CID:port, pre-accept
	connected  = map[pair]*Socket{}     // by (local, peer)
	portRefs   = map[uint32]int{}       // listening-port refcount, shared by accept-cloned sockets
	nextPort   uint32 = ephemeralLow
)

// Socket is a connection-oriented vsock socket: CID identifies the
// guest/host endpoint, Port is scoped within that CID's port space.
// Connected sockets share the same duplex-pipe construction used by
// net/inet's TCPSocket and net/unix's StreamSocket.
type Socket struct {
	net.Base
	rx      *pipe.Inode
	tx      *pipe.Inode
	pending chan *Socket
}

func NewSocket() *Socket {
	return &Socket{Base: net.NewBase(net.FamilyVsock, net.SockStream)}
}

func (s *Socket) Bind(ep net.Endpoint) error {
	if s.State() != net.Unbound {
		return errors.ErrSocketAlreadyConnected
	}
	mu.Lock()
	defer mu.Unlock()
	port := ep.Port
	if port == 0 {
		p, err := allocPortLocked()
		if err != nil {
			return err
		}
		port = p
		ep.Port = port
	} else if _, taken := listeners[port]; taken {
		return errors.ErrAddressInUse
	}
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

func allocPortLocked() (uint32, error) {
	start := nextPort
	for {
		port := nextPort
		nextPort++
		if nextPort > ephemeralHigh {
			nextPort = ephemeralLow
		}
		if _, taken := listeners[port]; !taken {
			return port, nil
		}
		if nextPort == start {
			return 0, errors.ErrPortSpaceExhausted
		}
	}
}

// Listen registers the socket as a listener at its bound port and gives
// it a backlog. A listening port's refcount starts at 1; each
// accept-cloned connected socket increments it, and each such socket's
// Close decrements it, so the listener is only actually removed from
// the table once every clone referencing its port has also closed.
func (s *Socket) Listen(backlog int) error {
	local, ok := s.LocalEndpoint()
	if !ok {
		return errors.New(errors.Invalid, "vsock", "listen", "socket is not bound")
	}
	if backlog <= 0 {
		backlog = 16
	}
	mu.Lock()
	defer mu.Unlock()
	if _, taken := listeners[local.Port]; taken {
		return errors.ErrAddressInUse
	}
	s.pending = make(chan *Socket, backlog)
	listeners[local.Port] = s
	portRefs[local.Port] = 1
	s.SetState(net.Listening)
	return nil
}

func (s *Socket) Accept() (net.Socket, error) {
	if s.pending == nil {
		return nil, errors.New(errors.Invalid, "vsock", "accept", "socket is not listening")
	}
	conn, ok := <-s.pending
	if !ok {
		return nil, errors.New(errors.Invalid, "vsock", "accept", "listener closed")
	}
	return conn, nil
}

// Connect looks the destination up in the listener table, builds a
// duplex pipe pair, registers both accepted and connecting sockets in
// the connected table keyed by (local, peer), and increments the
// listening port's refcount for the lifetime of the accepted clone.
func (s *Socket) Connect(to net.Endpoint) error {
	mu.Lock()
	listener, found := listeners[to.Port]
	if !found {
		mu.Unlock()
		return errors.New(errors.NotConnected, "vsock", "connect", "connection refused: no listener")
	}

	if _, ok := s.LocalEndpoint(); !ok {
		port, err := allocPortLocked()
		if err != nil {
			mu.Unlock()
			return err
		}
		s.SetLocal(net.Endpoint{Addr: to.Addr, Port: port})
	}
	local, _ := s.LocalEndpoint()
	connecting[local.Port] = s

	clientToServer := pipe.New()
	serverToClient := pipe.New()

	accepted := &Socket{Base: net.NewBase(net.FamilyVsock, net.SockStream)}
	accepted.SetLocal(to)
	accepted.SetRemote(local)
	accepted.SetState(net.Connected)
	accepted.rx = clientToServer
	accepted.tx = serverToClient
	accepted.SetReady(vfs.PollOut)

	s.rx = serverToClient
	s.tx = clientToServer
	s.SetRemote(to)
	s.SetState(net.Connected)
	s.SetReady(vfs.PollOut)

	connected[pair{local: to, peer: local}] = accepted
	connected[pair{local: local, peer: to}] = s
	portRefs[to.Port]++
	delete(connecting, local.Port)
	mu.Unlock()

	select {
	case listener.pending <- accepted:
	default:
		return errors.New(errors.NoSpace, "vsock", "connect", "listen backlog full")
	}
	listener.SetReady(vfs.PollIn)
	return nil
}

func (s *Socket) Send(buf []byte) (int, error) {
	if s.State() != net.Connected {
		return 0, errors.ErrSocketNotConnected
	}
	return s.tx.WriteAt(buf, 0)
}

func (s *Socket) Recv(buf []byte) (int, error) {
	if s.State() != net.Connected {
		return 0, errors.ErrSocketNotConnected
	}
	return s.rx.ReadAt(buf, 0)
}

func (s *Socket) SendTo(buf []byte, _ net.Endpoint) (int, error) { return s.Send(buf) }
func (s *Socket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	n, err := s.Recv(buf)
	remote, _ := s.RemoteEndpoint()
	return n, remote, err
}

func (s *Socket) Shutdown(how net.ShutdownHow) error {
	if s.tx == nil || s.rx == nil {
		return errors.ErrSocketNotConnected
	}
	if how == net.ShutdownWrite || how == net.ShutdownBoth {
		s.tx.CloseWriter()
	}
	if how == net.ShutdownRead || how == net.ShutdownBoth {
		s.rx.CloseReader()
	}
	return nil
}

// Close tears down this socket's side of a connection, releasing its
// (local, peer) table entry and, if it was an accept-cloned socket,
// decrementing its listening port's refcount — only removing the
// listener entry once that refcount reaches zero.
func (s *Socket) Close() error {
	if s.tx != nil {
		s.tx.CloseWriter()
	}
	if s.rx != nil {
		s.rx.CloseReader()
	}

	mu.Lock()
	local, hasLocal := s.LocalEndpoint()
	if remote, ok := s.RemoteEndpoint(); ok && hasLocal {
		delete(connected, pair{local: local, peer: remote})
	}
	if hasLocal {
		if refs, tracked := portRefs[local.Port]; tracked {
			refs--
			if refs <= 0 {
				delete(portRefs, local.Port)
				delete(listeners, local.Port)
			} else {
				portRefs[local.Port] = refs
			}
		}
	}
	if s.pending != nil {
		close(s.pending)
		s.pending = nil
	}
	mu.Unlock()
	return s.Base.Close()
}

func (s *Socket) Poll(events vfs.PollMask) vfs.PollMask {
	if s.rx == nil || s.tx == nil {
		return s.Base.Poll(events)
	}
	return s.rx.Poll(events&(vfs.PollIn|vfs.PollHup)) | s.tx.Poll(events&vfs.PollOut)
}
