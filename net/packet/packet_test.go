package packet

import (
	"testing"

	net "kcore/net"
)

func ethFrame(etherType uint16, payload string) []byte {
	frame := make([]byte, EthernetHeaderLen+len(payload))
	frame[12] = byte(etherType >> 8)
	frame[13] = byte(etherType)
	copy(frame[EthernetHeaderLen:], payload)
	return frame
}

func TestParseEthernetHeaderRejectsShortFrame(t *testing.T) {
	if _, err := ParseEthernetHeader([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestParseEthernetHeaderReadsEtherType(t *testing.T) {
	frame := ethFrame(0x0800, "payload")
	h, err := ParseEthernetHeader(frame)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if h.EtherType != 0x0800 {
		t.Fatalf("expected EtherType 0x0800, got 0x%x", h.EtherType)
	}
}

func TestSendDeliversToOtherSocketsOnSameInterface(t *testing.T) {
	a := NewSocket(0)
	defer a.Close()
	b := NewSocket(0)
	defer b.Close()
	if err := a.Bind(net.Endpoint{Addr: "eth0"}); err != nil {
		t.Fatalf("bind a failed: %v", err)
	}
	if err := b.Bind(net.Endpoint{Addr: "eth0"}); err != nil {
		t.Fatalf("bind b failed: %v", err)
	}

	frame := ethFrame(0x0806, "arp")
	if _, err := a.Send(frame); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := b.RecvFrom(buf)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("expected %d bytes, got %d", len(frame), n)
	}
}

func TestSendDoesNotLoopBackToSender(t *testing.T) {
	a := NewSocket(0)
	defer a.Close()
	a.Bind(net.Endpoint{Addr: "eth1"})
	a.Send(ethFrame(0x0800, "x"))
	if mask := a.CheckIOEvent(); mask != 0 {
		t.Fatal("expected sender not to receive its own frame")
	}
}

func TestSocketsOnDifferentInterfacesDoNotSeeEachOther(t *testing.T) {
	a := NewSocket(0)
	defer a.Close()
	b := NewSocket(0)
	defer b.Close()
	a.Bind(net.Endpoint{Addr: "eth0"})
	b.Bind(net.Endpoint{Addr: "eth1"})

	a.Send(ethFrame(0x0800, "x"))
	if mask := b.CheckIOEvent(); mask != 0 {
		t.Fatal("expected no cross-interface delivery")
	}
}
