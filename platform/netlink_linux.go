//go:build linux

package platform

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// NetlinkConfigurator is the Linux NetworkConfigurator, grounded
// directly on the teacher's
// x/examples/outline-cli/tun_device_linux.go's configureSubnet/bringUp
// methods.
type NetlinkConfigurator struct{}

var _ NetworkConfigurator = NetlinkConfigurator{}

func (NetlinkConfigurator) ConfigureAddress(deviceName, cidr string) error {
	link, err := netlink.LinkByName(deviceName)
	if err != nil {
		return fmt.Errorf("platform: device %q not found: %w", deviceName, err)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("platform: address %q is not valid: %w", cidr, err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("platform: failed to add address to %q: %w", deviceName, err)
	}
	return nil
}

func (NetlinkConfigurator) BringUp(deviceName string) error {
	link, err := netlink.LinkByName(deviceName)
	if err != nil {
		return fmt.Errorf("platform: device %q not found: %w", deviceName, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("platform: failed to bring %q up: %w", deviceName, err)
	}
	return nil
}
