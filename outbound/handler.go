// Package outbound implements the gateway's outbound handler catalog:
// a tag-addressable set of handlers built from config, with structural
// dedup on (protocol, canonical-settings),
// mirroring the scratch-list dedup algorithm in the original Rust
// source's app/outbound/manager.rs (restated in spec.md §4.2). The
// catalog is a map keyed by tag: it does not keep the order in which the
// config lists the outbounds.
package outbound

import (
	"context"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

// Capability is a bitmask of the connection shapes a handler can dial.
type Capability uint8

const (
	// CapStream marks a handler able to dial a stream (TCP-like) endpoint.
	CapStream Capability = 1 << iota
	// CapDatagram marks a handler able to dial a datagram (UDP-like) endpoint.
	CapDatagram
)

func (c Capability) Has(want Capability) bool { return c&want == want }

// Handler is one outbound protocol implementation, dialing to the
// destination the router selected. Handlers are polymorphic: a given
// protocol implements only the DialStream/DialPacket methods its
// capability set advertises; the other returns an error.
type Handler interface {
	Tag() string
	Protocol() string
	Capabilities() Capability
	DialStream(ctx context.Context, addr string) (transport.StreamConn, error)
	DialPacket(ctx context.Context, addr string) (net.Conn, error)
}

// Factory builds a Handler from a tag and a decoded settings map. Each
// proxy package registers its Factory under its protocol name via
// Register, the way outbound/manager.go turns a single settings blob
// into a concrete dialer — generalized here from the teacher's
// config.WrapStreamDialer per-scheme switch into an explicit registry so
// new protocols don't require editing the manager itself.
type Factory func(tag string, settings map[string]any, deps Deps) (Handler, error)

// Deps are the shared collaborators a Factory may need to build its
// handler: other already-built outbound handlers, for a protocol that
// dials through another outbound tag. None of the registered outbound
// protocols does so; Chain and AMux exist only as inbound handlers.
type Deps struct {
	// ByTag resolves another outbound handler by tag, for any protocol
	// that tunnels through another configured outbound. Returns
	// (nil, false) if tag is unknown *yet* — such a factory must tolerate
	// this during early construction passes, per spec's multi-pass build
	// (§9).
	ByTag func(tag string) (Handler, bool)
}

var registry = map[string]Factory{}

// Register adds a Factory under protocol name. Called from each proxy
// package's init(), following the teacher's practice of registering
// concrete dialers by scheme name rather than a central type switch.
func Register(protocol string, f Factory) {
	registry[protocol] = f
}

func lookupFactory(protocol string) (Factory, bool) {
	f, ok := registry[protocol]
	return f, ok
}
