// Package packet implements the Packet address family of spec.md
// §4.12: an AF_PACKET-style raw Ethernet frame socket bound to a named
// interface. Each interface is an in-memory bus: sending a frame on one
// socket delivers a copy to every other socket bound to the same
// interface, the simulation's stand-in for a shared broadcast segment.
package packet

import (
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"kcore/errors"
	net "kcore/net"
	"kcore/vfs"
)

// EthernetHeaderLen is the fixed 14-byte untagged Ethernet header:
// 6-byte destination, 6-byte source, 2-byte EtherType.
const EthernetHeaderLen = 14

// EthernetHeader is a parsed Ethernet frame header.
type EthernetHeader struct {
	Dst       [6]byte
	Src       [6]byte
	EtherType uint16
}

// ParseEthernetHeader decodes a frame's Ethernet header via gopacket's
// layers.Ethernet decoder, failing if the frame is shorter than a
// header or gopacket otherwise rejects it as malformed.
func ParseEthernetHeader(frame []byte) (EthernetHeader, error) {
	var h EthernetHeader
	if len(frame) < EthernetHeaderLen {
		return h, errors.New(errors.Invalid, "packet", "parse", "frame shorter than an Ethernet header")
	}
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return h, errors.New(errors.Invalid, "packet", "parse", "not a decodable Ethernet frame")
	}
	eth := ethLayer.(*layers.Ethernet)
	copy(h.Dst[:], eth.DstMAC)
	copy(h.Src[:], eth.SrcMAC)
	h.EtherType = uint16(eth.EthernetType)
	return h, nil
}

type iface struct {
	mu      sync.Mutex
	sockets map[*Socket]struct{}
}

var (
	ifacesMu sync.Mutex
	ifaces   = map[string]*iface{}
)

func ifaceFor(name string) *iface {
	ifacesMu.Lock()
	defer ifacesMu.Unlock()
	i, ok := ifaces[name]
	if !ok {
		i = &iface{sockets: map[*Socket]struct{}{}}
		ifaces[name] = i
	}
	return i
}

// Socket is a raw packet socket bound to a single interface name,
// capturing every frame any other socket on that interface sends.
type Socket struct {
	net.Base
	proto int
	iface *iface
	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
}

// NewSocket creates an unbound packet socket scoped to an EtherType
// (0 means "all protocols", matching ETH_P_ALL).
func NewSocket(proto int) *Socket {
	return &Socket{Base: net.NewBase(net.FamilyPacket, net.SockRaw), proto: proto, wake: make(chan struct{}, 1)}
}

// Bind attaches the socket to the named interface; Endpoint.Addr is the
// interface name, Endpoint.Port is unused.
func (s *Socket) Bind(ep net.Endpoint) error {
	i := ifaceFor(ep.Addr)
	i.mu.Lock()
	i.sockets[s] = struct{}{}
	i.mu.Unlock()
	s.iface = i
	s.SetLocal(ep)
	s.SetState(net.Bound)
	return nil
}

// Send transmits a raw frame onto the bound interface, delivering a
// copy to every other socket currently bound to it.
func (s *Socket) Send(frame []byte) (int, error) {
	if s.iface == nil {
		return 0, errors.ErrSocketNotConnected
	}
	cp := append([]byte(nil), frame...)
	s.iface.mu.Lock()
	for other := range s.iface.sockets {
		if other == s {
			continue
		}
		other.deliver(cp)
	}
	s.iface.mu.Unlock()
	return len(frame), nil
}

func (s *Socket) SendTo(frame []byte, _ net.Endpoint) (int, error) { return s.Send(frame) }

func (s *Socket) deliver(frame []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, frame)
	s.mu.Unlock()
	s.SetReady(vfs.PollIn)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Socket) Recv(buf []byte) (int, error) {
	n, _, err := s.RecvFrom(buf)
	return n, err
}

func (s *Socket) RecvFrom(buf []byte) (int, net.Endpoint, error) {
	local, _ := s.LocalEndpoint()
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			frame := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.ClearReady(vfs.PollIn)
			}
			s.mu.Unlock()
			n := copy(buf, frame)
			return n, local, nil
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *Socket) Close() error {
	if s.iface != nil {
		s.iface.mu.Lock()
		delete(s.iface.sockets, s)
		s.iface.mu.Unlock()
	}
	return s.Base.Close()
}
