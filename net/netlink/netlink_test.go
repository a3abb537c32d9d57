package netlink

import (
	"testing"

	net "kcore/net"
)

const testProto = 0 // NETLINK_ROUTE

func TestBindAssignsEphemeralPortWhenZero(t *testing.T) {
	s := NewSocket(testProto)
	defer s.Close()
	if err := s.Bind(net.Endpoint{}); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	local, ok := s.LocalEndpoint()
	if !ok || local.Port < ephemeralLow || local.Port > ephemeralHigh {
		t.Fatalf("expected ephemeral port, got %+v ok=%v", local, ok)
	}
}

func TestBindRejectsDuplicatePort(t *testing.T) {
	a := NewSocket(testProto)
	defer a.Close()
	if err := a.Bind(net.Endpoint{Port: 100}); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	b := NewSocket(testProto)
	defer b.Close()
	if err := b.Bind(net.Endpoint{Port: 100}); err == nil {
		t.Fatal("expected duplicate port bind to fail")
	}
}

func TestUnicastSendDeliversToBoundPort(t *testing.T) {
	recv := NewSocket(testProto)
	defer recv.Close()
	if err := recv.Bind(net.Endpoint{Port: 200}); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	send := NewSocket(testProto)
	defer send.Close()
	n, err := send.SendTo([]byte("rtmsg"), net.Endpoint{Port: 200})
	if err != nil || n != len("rtmsg") {
		t.Fatalf("sendto: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	n, _, err = recv.RecvFrom(buf)
	if err != nil || string(buf[:n]) != "rtmsg" {
		t.Fatalf("recvfrom: n=%d err=%v buf=%q", n, err, buf[:n])
	}
}

func TestUnicastSendToUnboundPortFails(t *testing.T) {
	send := NewSocket(testProto)
	defer send.Close()
	if _, err := send.SendTo([]byte("x"), net.Endpoint{Port: 999}); err == nil {
		t.Fatal("expected send to unbound port to fail")
	}
}

func TestMulticastJoinAndBroadcast(t *testing.T) {
	a := NewSocket(testProto)
	defer a.Close()
	b := NewSocket(testProto)
	defer b.Close()
	if err := a.Bind(net.Endpoint{}); err != nil {
		t.Fatalf("bind a failed: %v", err)
	}
	if err := b.Bind(net.Endpoint{}); err != nil {
		t.Fatalf("bind b failed: %v", err)
	}
	if err := a.JoinGroup(1); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := b.JoinGroup(1); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	sender := NewSocket(testProto)
	defer sender.Close()
	if _, err := sender.SendTo([]byte("link down"), net.Endpoint{Addr: GroupAddr, Port: 1}); err != nil {
		t.Fatalf("multicast send failed: %v", err)
	}

	for _, s := range []*Socket{a, b} {
		buf := make([]byte, 16)
		n, _, err := s.RecvFrom(buf)
		if err != nil || string(buf[:n]) != "link down" {
			t.Fatalf("member did not receive multicast: n=%d err=%v buf=%q", n, err, buf[:n])
		}
	}
}

func TestLeaveGroupStopsDelivery(t *testing.T) {
	a := NewSocket(testProto)
	defer a.Close()
	a.Bind(net.Endpoint{})
	a.JoinGroup(2)
	a.LeaveGroup(2)

	sender := NewSocket(testProto)
	defer sender.Close()
	sender.SendTo([]byte("ignored"), net.Endpoint{Addr: GroupAddr, Port: 2})

	if mask := a.CheckIOEvent(); mask != 0 {
		t.Fatal("expected no delivery after leaving group")
	}
}
