package udpnet

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

func mustListen(t *testing.T) *Transport {
	t.Helper()
	tr, err := Listen(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSendToDeliversToServe(t *testing.T) {
	server := mustListen(t)
	client := mustListen(t)

	received := make(chan []byte, 1)
	go server.Serve(func(from netip.AddrPort, data []byte) {
		cp := append([]byte(nil), data...)
		received <- cp
	})

	serverAddr := server.LocalAddr().(*net.UDPAddr).AddrPort()
	if err := client.SendTo(serverAddr, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Errorf("received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestServeReturnsErrClosedAfterClose(t *testing.T) {
	tr := mustListen(t)

	done := make(chan error, 1)
	go func() { done <- tr.Serve(func(netip.AddrPort, []byte) {}) }()

	tr.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("Serve() returned %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Serve to return")
	}
}

func TestSendToUnreachableAddrDoesNotPanic(t *testing.T) {
	tr := mustListen(t)
	other := mustListen(t)
	addr := other.LocalAddr().(*net.UDPAddr).AddrPort()
	other.Close()

	// Best-effort: UDP has no delivery guarantee, so this may or may not
	// return an error depending on the platform, but it must not panic.
	_ = tr.SendTo(addr, []byte("x"))
}
