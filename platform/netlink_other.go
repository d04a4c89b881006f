//go:build !linux

package platform

import (
	"errors"
	"fmt"
)

// NetlinkConfigurator is Linux-only (vishvananda/netlink wraps the
// Linux rtnetlink socket family); other platforms need their own
// NetworkConfigurator, not provided by this package.
type NetlinkConfigurator struct{}

var _ NetworkConfigurator = NetlinkConfigurator{}

func (NetlinkConfigurator) ConfigureAddress(deviceName, cidr string) error {
	return fmt.Errorf("platform: %w: netlink device configuration is Linux-only", errors.ErrUnsupported)
}

func (NetlinkConfigurator) BringUp(deviceName string) error {
	return fmt.Errorf("platform: %w: netlink device configuration is Linux-only", errors.ErrUnsupported)
}
