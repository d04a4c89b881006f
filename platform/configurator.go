// Package platform defines the external-collaborator boundary for
// bringing up a TUN device's platform-specific plumbing (address,
// link state, routes, DNS). SPEC_FULL.md §4.1 deliberately leaves this
// boundary's real implementation out of scope — proxy/tun depends only
// on the interface below, the same way the teacher's
// x/examples/outline-cli split tun_device_linux.go's netlink calls out
// from the tun2socks relay loop in main.go.
package platform

// NetworkConfigurator assigns a TUN device its address and brings its
// link up. Route and DNS configuration are a deployment concern this
// package does not implement; a real deployment's NetworkConfigurator
// would extend this interface (or be layered with a separate one) to
// cover them.
type NetworkConfigurator interface {
	// ConfigureAddress assigns cidr (e.g. "10.233.233.1/32") to the
	// named device.
	ConfigureAddress(deviceName, cidr string) error
	// BringUp sets the named device's link state to up.
	BringUp(deviceName string) error
}
