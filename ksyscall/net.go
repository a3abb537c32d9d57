package ksyscall

import (
	"fmt"
	"sync"

	"kcore/archhal"
	"kcore/errors"
	"kcore/net"
	"kcore/net/inet"
	"kcore/net/netlink"
	"kcore/net/packet"
	"kcore/net/unix"
	"kcore/net/vsock"
	"kcore/process"
	"kcore/vfs"
)

func init() {
	register(SysSocket, "socket", 3, sysSocket)
	register(SysSocketpair, "socketpair", 4, sysSocketpair)
	register(SysBind, "bind", 3, sysBindNeedsEndpoint)
	register(SysListen, "listen", 2, sysListen)
	register(SysAccept, "accept", 3, sysAccept)
	register(SysAccept4, "accept4", 4, sysAccept)
	register(SysConnect, "connect", 3, sysConnectNeedsEndpoint)
	register(SysSendto, "sendto", 6, sysSendtoNeedsEndpoint)
	register(SysRecvfrom, "recvfrom", 6, sysRecvfrom)
	register(SysSendmsg, "sendmsg", 3, sysSendNeedsMsghdr)
	register(SysRecvmsg, "recvmsg", 3, sysRecvNeedsMsghdr)
	register(SysShutdown, "shutdown", 2, sysShutdown)
	register(SysGetsockopt, "getsockopt", 5, sysGetsockopt)
	register(SysSetsockopt, "setsockopt", 5, sysSetsockopt)
	register(SysGetsockname, "getsockname", 3, sysGetsockname)
	register(SysGetpeername, "getpeername", 3, sysGetpeername)
	register(SysRecvmmsg, "recvmmsg", 5, sysMmsgNeedsVector)
	register(SysSendmmsg, "sendmmsg", 4, sysMmsgNeedsVector)
}

// sysMmsgNeedsVector backs recvmmsg/sendmmsg: both take an array of
// mmsghdr structs, each itself holding a msghdr of iovecs, three
// pointer indirections deep from args — further from a resolvable raw
// argument than sendmsg/recvmsg's single msghdr already is. No caller
// in this tree needs the batched form, so it is left as a documented
// gap rather than a half-built loop over an argument this core cannot
// read.
func sysMmsgNeedsVector(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "mmsg", "mmsghdr vector argument requires resolved iovecs, not a raw pointer")
}

// newFamilySocket is the generic socket(2) dispatcher net itself cannot
// host: net would need to import inet/unix/netlink/vsock/packet to
// build one, and each of those imports net back for the Socket/
// Endpoint contract, so the factory has to live one layer up, in the
// one package that already imports every facade below it.
func newFamilySocket(family net.Family, typ net.SockType, proto int) (net.Socket, error) {
	switch family {
	case net.FamilyInet:
		switch typ {
		case net.SockStream:
			return inet.NewTCPSocket(), nil
		case net.SockDgram:
			return inet.NewUDPSocket(), nil
		case net.SockRaw:
			return inet.NewRawSocket(proto), nil
		}
	case net.FamilyUnix:
		switch typ {
		case net.SockStream:
			return unix.NewStreamSocket(), nil
		case net.SockDgram:
			return unix.NewDgramSocket(), nil
		}
	case net.FamilyNetlink:
		return netlink.NewSocket(proto), nil
	case net.FamilyVsock:
		return vsock.NewSocket(), nil
	case net.FamilyPacket:
		return packet.NewSocket(proto), nil
	}
	return nil, errors.New(errors.Invalid, "ksyscall", "socket", "unsupported family/type combination")
}

// socketInode adapts a net.Socket onto the vfs.Inode contract so it can
// sit in an FDTable slot like any other open file, the same shape
// net/unix's own socket-as-inode handling in this tree expects a
// caller to provide.
type socketInode struct {
	sock net.Socket
}

func (s *socketInode) Open(flags int) error { return nil }
func (s *socketInode) Close() error         { return s.sock.Close() }
func (s *socketInode) ReadAt(buf []byte, offset int64) (int, error) {
	return s.sock.Recv(buf)
}
func (s *socketInode) WriteAt(buf []byte, offset int64) (int, error) {
	return s.sock.Send(buf)
}
func (s *socketInode) Metadata() vfs.Metadata {
	return vfs.Metadata{Kind: vfs.KindSocket}
}
func (s *socketInode) Ioctl(cmd, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "ksyscall", "socket_ioctl", "not supported on sockets")
}
func (s *socketInode) Mmap(offset int64, length int) (vfs.MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "ksyscall", "socket_mmap", "sockets are not mmapable")
}
func (s *socketInode) Poll(events vfs.PollMask) vfs.PollMask { return s.sock.Poll(events) }
func (s *socketInode) List() ([]vfs.DirEntry, error) {
	return nil, errors.New(errors.NotDirectory, "ksyscall", "socket_list", "not a directory")
}

func installSocket(ctx *Context, sock net.Socket) int {
	f := &vfs.File{Inode: vfs.Ref(&socketInode{sock: sock}), Flags: vfs.OReadWrite}
	return ctx.FDs.Install(f)
}

func socketFromFD(ctx *Context, fd int) (net.Socket, error) {
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return nil, err
	}
	si, ok := f.Inode.Inode.(*socketInode)
	if !ok {
		return nil, errors.New(errors.Invalid, "ksyscall", "socket_from_fd", "fd is not a socket")
	}
	return si.sock, nil
}

func sysSocket(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := newFamilySocket(net.Family(args[0]), net.SockType(args[1]), int(args[2]))
	if err != nil {
		return -1, err
	}
	return int64(installSocket(ctx, sock)), nil
}

var socketpairCounter struct {
	mu sync.Mutex
	n  uint64
}

// sysSocketpair only supports AF_UNIX, matching socketpair(2)'s own
// real-world restriction to that family. It wires the pair through
// unix.StreamSocket's ordinary bind/listen/connect/accept path under a
// throwaway generated address, since StreamSocket exposes no
// already-connected-pair constructor of its own.
func sysSocketpair(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	if net.Family(args[0]) != net.FamilyUnix {
		return -1, errors.New(errors.Invalid, "ksyscall", "socketpair", "only AF_UNIX is supported")
	}
	socketpairCounter.mu.Lock()
	socketpairCounter.n++
	addr := fmt.Sprintf("\x00socketpair-%d-%d", t.PID(), socketpairCounter.n)
	socketpairCounter.mu.Unlock()

	listener := unix.NewStreamSocket()
	ep := net.Endpoint{Addr: addr}
	if err := listener.Bind(ep); err != nil {
		return -1, err
	}
	if err := listener.Listen(1); err != nil {
		return -1, err
	}
	client := unix.NewStreamSocket()
	if err := client.Connect(ep); err != nil {
		return -1, err
	}
	serverSide, err := listener.Accept()
	if err != nil {
		return -1, err
	}
	fdA := installSocket(ctx, client)
	fdB := installSocket(ctx, serverSide)
	recordSocketPair(t.PID(), fdA, fdB)
	return 0, nil
}

// BindEndpoint/ConnectEndpoint are the resolved-value entry points
// bind(2)/connect(2) would use if wired to a real sockaddr copy-in;
// args[1] is a raw user pointer to a sockaddr this core has no address
// space to read, the same gap OpenPath/StatPath document.
func BindEndpoint(ctx *Context, fd int, ep net.Endpoint) error {
	sock, err := socketFromFD(ctx, fd)
	if err != nil {
		return err
	}
	return sock.Bind(ep)
}

func ConnectEndpoint(ctx *Context, fd int, ep net.Endpoint) error {
	sock, err := socketFromFD(ctx, fd)
	if err != nil {
		return err
	}
	return sock.Connect(ep)
}

func sysBindNeedsEndpoint(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "bind", "sockaddr argument requires a resolved endpoint, not a raw pointer")
}

func sysConnectNeedsEndpoint(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "connect", "sockaddr argument requires a resolved endpoint, not a raw pointer")
}

func sysListen(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	if err := sock.Listen(int(args[1])); err != nil {
		return -1, err
	}
	return 0, nil
}

func sysAccept(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	child, err := sock.Accept()
	if err != nil {
		return -1, err
	}
	return int64(installSocket(ctx, child)), nil
}

func sysSendtoNeedsEndpoint(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "sendto", "sockaddr argument requires a resolved endpoint, not a raw pointer")
}

// SendToEndpoint is sendto(2)'s resolved-value entry point.
func SendToEndpoint(ctx *Context, fd int, buf []byte, ep net.Endpoint) (int, error) {
	sock, err := socketFromFD(ctx, fd)
	if err != nil {
		return -1, err
	}
	return sock.SendTo(buf, ep)
}

func sysRecvfrom(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	buf := make([]byte, args[2])
	n, ep, err := sock.RecvFrom(buf)
	if err != nil {
		return -1, err
	}
	recordRecvFrom(t.PID(), ep)
	return int64(n), nil
}

func sysSendNeedsMsghdr(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "sendmsg", "msghdr argument requires resolved iovecs, not a raw pointer")
}

func sysRecvNeedsMsghdr(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "recvmsg", "msghdr argument requires resolved iovecs, not a raw pointer")
}

func sysShutdown(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	if err := sock.Shutdown(net.ShutdownHow(args[1])); err != nil {
		return -1, err
	}
	return 0, nil
}

func sysGetsockopt(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	val, err := sock.Option(int(args[1]), int(args[2]))
	if err != nil {
		return -1, err
	}
	recordSockopt(t.PID(), val)
	return 0, nil
}

func sysSetsockopt(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	if err := sock.SetOption(int(args[1]), int(args[2]), make([]byte, args[4])); err != nil {
		return -1, err
	}
	return 0, nil
}

func sysGetsockname(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	ep, ok := sock.LocalEndpoint()
	if !ok {
		return -1, errors.ErrSocketNotConnected
	}
	recordRecvFrom(t.PID(), ep)
	return 0, nil
}

func sysGetpeername(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sock, err := socketFromFD(ctx, int(int32(args[0])))
	if err != nil {
		return -1, err
	}
	ep, ok := sock.RemoteEndpoint()
	if !ok {
		return -1, errors.ErrSocketNotConnected
	}
	recordRecvFrom(t.PID(), ep)
	return 0, nil
}

var (
	sockPairMu sync.Mutex
	sockPairs  = map[int][2]int{}

	recvFromMu sync.Mutex
	recvFroms  = map[int]net.Endpoint{}

	sockoptMu sync.Mutex
	sockopts  = map[int][]byte{}
)

func recordSocketPair(pid, a, b int) {
	sockPairMu.Lock()
	sockPairs[pid] = [2]int{a, b}
	sockPairMu.Unlock()
}

// LastSocketPair returns pid's most recent socketpair(2) fd pair.
func LastSocketPair(pid int) ([2]int, bool) {
	sockPairMu.Lock()
	defer sockPairMu.Unlock()
	p, ok := sockPairs[pid]
	return p, ok
}

func recordRecvFrom(pid int, ep net.Endpoint) {
	recvFromMu.Lock()
	recvFroms[pid] = ep
	recvFromMu.Unlock()
}

// LastEndpoint returns the endpoint most recently recorded for pid by
// recvfrom/getsockname/getpeername.
func LastEndpoint(pid int) (net.Endpoint, bool) {
	recvFromMu.Lock()
	defer recvFromMu.Unlock()
	ep, ok := recvFroms[pid]
	return ep, ok
}

func recordSockopt(pid int, val []byte) {
	sockoptMu.Lock()
	sockopts[pid] = val
	sockoptMu.Unlock()
}

// LastSockopt returns the option value most recently recorded for pid
// by getsockopt.
func LastSockopt(pid int) ([]byte, bool) {
	sockoptMu.Lock()
	defer sockoptMu.Unlock()
	v, ok := sockopts[pid]
	return v, ok
}
