//go:build !linux

package transport

import (
	"fmt"
	"syscall"
)

// BindToInterfaceControl is unimplemented outside Linux; SO_BINDTODEVICE
// has no portable equivalent, so binding a dial to a specific interface
// fails loudly rather than silently dialing via the default route.
func BindToInterfaceControl(iface string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return fmt.Errorf("binding outbound dials to interface %q is not supported on this platform", iface)
	}
}
