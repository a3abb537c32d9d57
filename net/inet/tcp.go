package inet

import (
	"sync"

	"kcore/errors"
	"kcore/ipc/pipe"
	net "kcore/net"
	"kcore/vfs"
)

var (
	tcpMu     sync.Mutex
	tcpListen = map[addrKey]*TCPSocket{}
	tcpNext   uint32 = ephemeralLow
)

func allocTCPPortLocked() (uint32, error) {
	start := tcpNext
	for {
		port := tcpNext
		tcpNext++
		if tcpNext > ephemeralHigh {
			tcpNext = ephemeralLow
		}
		if _, taken := tcpListen[addrKey{"", port}]; !taken {
			return port, nil
		}
		if tcpNext == start {
			return 0, errors.ErrPortSpaceExhausted
		}
	}
}

// TCPSocket is a connection-oriented stream socket. Once Listen
// succeeds it also serves as the listen queue; otherwise, once
// Connect/Accept succeeds, its data plane is two kcore/ipc/pipe.Inode
// ring buffers (one per direction) rather than a byte queue of its
// own — the same duplex-via-two-FIFOs construction a POSIX pty or
// socketpair(2) uses, which gets pipe's blocking, atomic-write and
// EOF/broken-pipe semantics for free.
type TCPSocket struct {
	net.Base
	rx      *pipe.Inode // this socket reads from here
	tx      *pipe.Inode // this socket writes to here
	pending chan *TCPSocket
}

// NewTCPSocket creates an unbound, unconnected TCP socket.
func NewTCPSocket() *TCPSocket {
	return &TCPSocket{Base: net.NewBase(net.FamilyInet, net.SockStream)}
}

func (s *TCPSocket) Bind(ep net.Endpoint) error {
	if s.State() != net.Unbound {
		return errors.ErrSocketAlreadyConnected
	}
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

// Listen publishes the socket in the process-wide listen table so
// Connect calls can find it, and gives it a backlog queue for Accept.
func (s *TCPSocket) Listen(backlog int) error {
	local, ok := s.LocalEndpoint()
	if !ok {
		return errors.New(errors.Invalid, "tcp", "listen", "socket is not bound")
	}
	if backlog <= 0 {
		backlog = 16
	}

	tcpMu.Lock()
	key := addrKey{local.Addr, local.Port}
	if _, taken := tcpListen[key]; taken {
		tcpMu.Unlock()
		return errors.ErrAddressInUse
	}
	s.pending = make(chan *TCPSocket, backlog)
	tcpListen[key] = s
	tcpMu.Unlock()

	s.SetState(net.Listening)
	return nil
}

func (s *TCPSocket) Accept() (net.Socket, error) {
	if s.pending == nil {
		return nil, errors.New(errors.Invalid, "tcp", "accept", "socket is not listening")
	}
	conn, ok := <-s.pending
	if !ok {
		return nil, errors.New(errors.Invalid, "tcp", "accept", "listener closed")
	}
	return conn, nil
}

// Connect performs an in-process three-way handshake stand-in: it finds
// the destination's listening socket, wires a fresh duplex pipe pair
// between a server-side accepted socket and this client socket, and
// pushes the accepted socket onto the listener's backlog.
func (s *TCPSocket) Connect(to net.Endpoint) error {
	tcpMu.Lock()
	listener, found := tcpListen[addrKey{to.Addr, to.Port}]
	tcpMu.Unlock()
	if !found {
		return errors.New(errors.NotConnected, "tcp", "connect", "connection refused: no listener")
	}

	if _, ok := s.LocalEndpoint(); !ok {
		port, err := func() (uint32, error) {
			tcpMu.Lock()
			defer tcpMu.Unlock()
			return allocTCPPortLocked()
		}()
		if err != nil {
			return err
		}
		s.SetLocal(net.Endpoint{Addr: to.Addr, Port: port})
	}
	local, _ := s.LocalEndpoint()

	clientToServer := pipe.New()
	serverToClient := pipe.New()

	accepted := &TCPSocket{Base: net.NewBase(net.FamilyInet, net.SockStream)}
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

	select {
	case listener.pending <- accepted:
	default:
		return errors.New(errors.NoSpace, "tcp", "connect", "listen backlog full")
	}
	listener.SetReady(vfs.PollIn)
	return nil
}

func (s *TCPSocket) Send(buf []byte) (int, error) {
	if s.State() != net.Connected {
		return 0, errors.ErrSocketNotConnected
	}
	return s.tx.WriteAt(buf, 0)
}

func (s *TCPSocket) Recv(buf []byte) (int, error) {
	if s.State() != net.Connected {
		return 0, errors.ErrSocketNotConnected
	}
	return s.rx.ReadAt(buf, 0)
}

func (s *TCPSocket) SendTo(buf []byte, _ net.Endpoint) (int, error) { return s.Send(buf) }
func (s *TCPSocket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	n, err := s.Recv(buf)
	remote, _ := s.RemoteEndpoint()
	return n, remote, err
}

func (s *TCPSocket) Shutdown(how net.ShutdownHow) error {
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

func (s *TCPSocket) Close() error {
	if s.tx != nil {
		s.tx.CloseWriter()
	}
	if s.rx != nil {
		s.rx.CloseReader()
	}
	if s.pending != nil {
		if local, ok := s.LocalEndpoint(); ok {
			tcpMu.Lock()
			delete(tcpListen, addrKey{local.Addr, local.Port})
			tcpMu.Unlock()
		}
		close(s.pending)
		s.pending = nil
	}
	return s.Base.Close()
}

// Poll reports readiness from the underlying pipes once connected,
// since the data plane lives in them rather than in Base's own
// readiness mask.
func (s *TCPSocket) Poll(events vfs.PollMask) vfs.PollMask {
	if s.rx == nil || s.tx == nil {
		return s.Base.Poll(events)
	}
	return s.rx.Poll(events&(vfs.PollIn|vfs.PollHup)) | s.tx.Poll(events&vfs.PollOut)
}
