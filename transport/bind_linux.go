//go:build linux

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// BindToInterfaceControl returns a net.Dialer.Control callback that binds
// the dialed socket to iface via SO_BINDTODEVICE before connect(2), so
// traffic leaves via the named interface regardless of the default route.
func BindToInterfaceControl(iface string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var controlErr error
		err := c.Control(func(fd uintptr) {
			controlErr = unix.BindToDevice(int(fd), iface)
		})
		if err != nil {
			return err
		}
		if controlErr != nil {
			return fmt.Errorf("bind to interface %q: %w", iface, controlErr)
		}
		return nil
	}
}
