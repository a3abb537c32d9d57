package inet

import (
	"testing"

	net "kcore/net"
)

func TestRawSocketLoopsBackSelfAddressedPackets(t *testing.T) {
	s := NewRawSocket(1) // IPPROTO_ICMP
	if err := s.Bind(net.Endpoint{Addr: "127.0.0.1"}); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if _, err := s.SendTo([]byte("ping"), net.Endpoint{Addr: "127.0.0.1"}); err != nil {
		t.Fatalf("sendto failed: %v", err)
	}
	buf := make([]byte, 16)
	n, from, err := s.RecvFrom(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("unexpected loopback delivery: n=%d err=%v buf=%q", n, err, buf[:n])
	}
	if from.Addr != "127.0.0.1" {
		t.Fatalf("expected loopback source, got %+v", from)
	}
}

func TestRawSocketDropsNonSelfAddressedPackets(t *testing.T) {
	s := NewRawSocket(1)
	s.Bind(net.Endpoint{Addr: "127.0.0.1"})
	if _, err := s.SendTo([]byte("x"), net.Endpoint{Addr: "10.0.0.1"}); err != nil {
		t.Fatalf("sendto should succeed even when dropped, got %v", err)
	}
	if mask := s.CheckIOEvent(); mask != 0 {
		t.Fatal("expected no readiness: non-self-addressed packet should not be queued")
	}
}

func TestRawSocketConnectBindsEphemeralLocalWithoutPeer(t *testing.T) {
	s := NewRawSocket(1)
	if err := s.Connect(net.Endpoint{Addr: "127.0.0.1"}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	local, ok := s.LocalEndpoint()
	if !ok || local.Addr != "127.0.0.1" {
		t.Fatalf("expected local endpoint bound from connect target, got %+v ok=%v", local, ok)
	}
	if _, ok := s.RemoteEndpoint(); ok {
		t.Fatal("expected raw socket to always report NotConnected for getpeername")
	}
}
