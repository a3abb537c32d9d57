// Package unix implements the Unix address family of spec.md §4.12:
// stream and datagram sockets named either by a filesystem path or, by
// convention, an abstract name prefixed with a NUL byte (matching
// Linux's sockaddr_un abstract-namespace trick). There is no real
// filesystem binding here — names are just keys into a process-wide
// table, the same in-memory delivery model kcore/net/inet uses for
// Inet sockets.
package unix

import (
	"sync"

	"kcore/errors"
	"kcore/ipc/pipe"
	net "kcore/net"
	"kcore/vfs"
)

var (
	dgramMu    sync.Mutex
	dgramTable = map[string]*DgramSocket{}

	streamMu    sync.Mutex
	streamTable = map[string]*StreamSocket{}
)

// DgramSocket is a connectionless Unix datagram socket, delivered the
// same way kcore/net/inet's UDPSocket delivers: Bind publishes a name
// in a process-wide table, SendTo looks the destination up and copies
// the message straight into its queue.
type DgramSocket struct {
	net.Base
	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
}

func NewDgramSocket() *DgramSocket {
	return &DgramSocket{Base: net.NewBase(net.FamilyUnix, net.SockDgram), wake: make(chan struct{}, 1)}
}

func (s *DgramSocket) Bind(ep net.Endpoint) error {
	dgramMu.Lock()
	defer dgramMu.Unlock()
	if _, taken := dgramTable[ep.Addr]; taken {
		return errors.ErrAddressInUse
	}
	dgramTable[ep.Addr] = s
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

func (s *DgramSocket) Connect(to net.Endpoint) error {
	s.SetRemote(to)
	s.SetState(net.Connected)
	return nil
}

func (s *DgramSocket) Send(buf []byte) (int, error) {
	remote, ok := s.RemoteEndpoint()
	if !ok {
		return 0, errors.ErrSocketNotConnected
	}
	return s.SendTo(buf, remote)
}

func (s *DgramSocket) SendTo(buf []byte, to net.Endpoint) (int, error) {
	dgramMu.Lock()
	dst, found := dgramTable[to.Addr]
	dgramMu.Unlock()
	if !found {
		return 0, errors.New(errors.NotConnected, "unix", "sendto", "no such socket name")
	}
	cp := append([]byte(nil), buf...)
	dst.mu.Lock()
	dst.queue = append(dst.queue, cp)
	dst.mu.Unlock()
	dst.SetReady(vfs.PollIn)
	select {
	case dst.wake <- struct{}{}:
	default:
	}
	return len(buf), nil
}

func (s *DgramSocket) Recv(buf []byte) (int, error) {
	n, _, err := s.RecvFrom(buf)
	return n, err
}

func (s *DgramSocket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
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

func (s *DgramSocket) Close() error {
	if local, ok := s.LocalEndpoint(); ok {
		dgramMu.Lock()
		delete(dgramTable, local.Addr)
		dgramMu.Unlock()
	}
	return s.Base.Close()
}

// StreamSocket is a connection-oriented Unix stream socket, built the
// same way kcore/net/inet's TCPSocket is: Listen registers a backlog
// channel under the bound name, Connect wires a fresh duplex pair of
// kcore/ipc/pipe.Inode ring buffers between the accepted server socket
// and the connecting client.
type StreamSocket struct {
	net.Base
	rx      *pipe.Inode
	tx      *pipe.Inode
	pending chan *StreamSocket
}

func NewStreamSocket() *StreamSocket {
	return &StreamSocket{Base: net.NewBase(net.FamilyUnix, net.SockStream)}
}

func (s *StreamSocket) Bind(ep net.Endpoint) error {
	if s.State() != net.Unbound {
		return errors.ErrSocketAlreadyConnected
	}
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

func (s *StreamSocket) Listen(backlog int) error {
	local, ok := s.LocalEndpoint()
	if !ok {
		return errors.New(errors.Invalid, "unix", "listen", "socket is not bound")
	}
	if backlog <= 0 {
		backlog = 16
	}
	streamMu.Lock()
	if _, taken := streamTable[local.Addr]; taken {
		streamMu.Unlock()
		return errors.ErrAddressInUse
	}
	s.pending = make(chan *StreamSocket, backlog)
	streamTable[local.Addr] = s
	streamMu.Unlock()

	s.SetState(net.Listening)
	return nil
}

func (s *StreamSocket) Accept() (net.Socket, error) {
	if s.pending == nil {
		return nil, errors.New(errors.Invalid, "unix", "accept", "socket is not listening")
	}
	conn, ok := <-s.pending
	if !ok {
		return nil, errors.New(errors.Invalid, "unix", "accept", "listener closed")
	}
	return conn, nil
}

func (s *StreamSocket) Connect(to net.Endpoint) error {
	streamMu.Lock()
	listener, found := streamTable[to.Addr]
	streamMu.Unlock()
	if !found {
		return errors.New(errors.NotConnected, "unix", "connect", "connection refused: no listener")
	}

	clientToServer := pipe.New()
	serverToClient := pipe.New()

	accepted := &StreamSocket{Base: net.NewBase(net.FamilyUnix, net.SockStream)}
	accepted.SetLocal(to)
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
		return errors.New(errors.NoSpace, "unix", "connect", "listen backlog full")
	}
	listener.SetReady(vfs.PollIn)
	return nil
}

func (s *StreamSocket) Send(buf []byte) (int, error) {
	if s.State() != net.Connected {
		return 0, errors.ErrSocketNotConnected
	}
	return s.tx.WriteAt(buf, 0)
}

func (s *StreamSocket) Recv(buf []byte) (int, error) {
	if s.State() != net.Connected {
		return 0, errors.ErrSocketNotConnected
	}
	return s.rx.ReadAt(buf, 0)
}

func (s *StreamSocket) SendTo(buf []byte, _ net.Endpoint) (int, error) { return s.Send(buf) }
func (s *StreamSocket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	n, err := s.Recv(buf)
	remote, _ := s.RemoteEndpoint()
	return n, remote, err
}

func (s *StreamSocket) Shutdown(how net.ShutdownHow) error {
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

func (s *StreamSocket) Close() error {
	if s.tx != nil {
		s.tx.CloseWriter()
	}
	if s.rx != nil {
		s.rx.CloseReader()
	}
	if s.pending != nil {
		if local, ok := s.LocalEndpoint(); ok {
			streamMu.Lock()
			delete(streamTable, local.Addr)
			streamMu.Unlock()
		}
		close(s.pending)
		s.pending = nil
	}
	return s.Base.Close()
}

func (s *StreamSocket) Poll(events vfs.PollMask) vfs.PollMask {
	if s.rx == nil || s.tx == nil {
		return s.Base.Poll(events)
	}
	return s.rx.Poll(events&(vfs.PollIn|vfs.PollHup)) | s.tx.Poll(events&vfs.PollOut)
}
