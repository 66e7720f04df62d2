// Package udpnet implements a minimal UDP transport for exchanging
// snapshotpacket-framed datagrams between a MasterController/PuppetController
// and a ServerController, grounded on pkg/nspkt's raw net.UDPConn handling.
//
// Unlike pkg/nspkt, frames carried here are not encrypted: netctrl's wire
// format is designed to be raced over an unreliable channel as-is, and
// authentication/encryption is left to whatever the caller layers on top
// (e.g. DTLS, or an application-level MAC).
package udpnet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
)

// ErrClosed is returned by Serve once the Transport has been closed. SendTo
// on a closed Transport returns the wrapped socket error instead.
var ErrClosed = errors.New("udpnet: transport closed")

// MaxPacketSize is the largest datagram Serve will read. snapshotpacket
// frames are small (a handful of bytes per queued input), so this leaves
// generous headroom without risking IP fragmentation.
const MaxPacketSize = 1400

// Transport sends and receives unencrypted UDP datagrams on a single bound
// socket, shared by every remote peer that talks to it.
type Transport struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	closing bool
}

// Listen opens a UDP socket bound to addr. On unix platforms the socket is
// opened with SO_REUSEPORT so multiple processes (or a restarting process)
// can share the port without an EADDRINUSE race; see reuseport_unix.go.
func Listen(addr netip.AddrPort) (*Transport, error) {
	lc := net.ListenConfig{Control: reusePortControl}

	pc, err := lc.ListenPacket("udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	conn := pc.(*net.UDPConn)

	return &Transport{conn: conn}, nil
}

// LocalAddr returns the transport's bound local address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close closes the underlying socket, unblocking any in-progress Serve call.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	return t.conn.Close()
}

// SetTrafficClass sets the IPv4 ToS/DSCP byte stamped on every outgoing
// packet, so real-time input/state traffic can be prioritized by
// ToS-aware routers ahead of bulk traffic sharing the same host.
func (t *Transport) SetTrafficClass(tos int) error {
	return ipv4.NewConn(t.conn).SetTOS(tos)
}

// SendTo sends b as a single datagram to addr.
func (t *Transport) SendTo(addr netip.AddrPort, b []byte) error {
	if _, err := t.conn.WriteToUDPAddrPort(b, addr); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// Handler processes one received datagram. The byte slice is only valid for
// the duration of the call.
type Handler func(from netip.AddrPort, data []byte)

// Serve reads datagrams until the Transport is closed, calling handler for
// each one. It blocks until Close is called or the socket errors, at which
// point it returns ErrClosed or the underlying error.
func (t *Transport) Serve(handler Handler) error {
	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if closing {
				return ErrClosed
			}
			return fmt.Errorf("read udp: %w", err)
		}
		handler(netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), buf[:n])
	}
}
