package vsock

import (
	"testing"
	"time"

	net "kcore/net"
)

func TestConnectWithoutListenerFails(t *testing.T) {
	c := NewSocket()
	defer c.Close()
	if err := c.Connect(net.Endpoint{Addr: "2", Port: 5000}); err == nil {
		t.Fatal("expected connection refused")
	}
}

func TestListenAcceptConnectRoundTrips(t *testing.T) {
	srv := NewSocket()
	if err := srv.Bind(net.Endpoint{Addr: "2", Port: 5100}); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := srv.Listen(4); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer srv.Close()

	acceptDone := make(chan net.Socket, 1)
	go func() {
		conn, err := srv.Accept()
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		acceptDone <- conn
	}()

	cli := NewSocket()
	defer cli.Close()
	if err := cli.Connect(net.Endpoint{Addr: "2", Port: 5100}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	var serverSide net.Socket
	select {
	case serverSide = <-acceptDone:
	case <-time.After(time.Second):
		t.Fatal("accept never completed")
	}
	defer serverSide.Close()

	if _, err := cli.Send([]byte("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	buf := make([]byte, 16)
	n, err := serverSide.Recv(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("recv: n=%d err=%v buf=%q", n, err, buf[:n])
	}
}

func TestListeningPortSurvivesListenerCloseUntilCloneCloses(t *testing.T) {
	srv := NewSocket()
	if err := srv.Bind(net.Endpoint{Addr: "2", Port: 5200}); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := srv.Listen(4); err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	cli := NewSocket()
	if err := cli.Connect(net.Endpoint{Addr: "2", Port: 5200}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	accepted, err := srv.Accept()
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	srv.Close()

	mu.Lock()
	_, stillTracked := portRefs[5200]
	mu.Unlock()
	if !stillTracked {
		t.Fatal("expected listening port refcount to survive listener close while a clone is open")
	}

	accepted.Close()
	cli.Close()

	mu.Lock()
	_, tracked := portRefs[5200]
	mu.Unlock()
	if tracked {
		t.Fatal("expected listening port refcount to reach zero once all clones closed")
	}
}

func TestConnectAllocatesEphemeralLocalWhenUnbound(t *testing.T) {
	srv := NewSocket()
	srv.Bind(net.Endpoint{Addr: "2", Port: 5300})
	srv.Listen(4)
	defer srv.Close()

	cli := NewSocket()
	defer cli.Close()
	if err := cli.Connect(net.Endpoint{Addr: "2", Port: 5300}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	local, ok := cli.LocalEndpoint()
	if !ok || local.Port < ephemeralLow || local.Port > ephemeralHigh {
		t.Fatalf("expected ephemeral local endpoint, got %+v ok=%v", local, ok)
	}
}
