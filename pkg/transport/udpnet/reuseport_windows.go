//go:build windows

package udpnet

import "syscall"

// SO_REUSEPORT has no equivalent on Windows; rely on the default
// exclusive-bind behavior instead.
func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}
