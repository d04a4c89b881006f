// Package session describes a single client flow as it moves through the
// gateway: accepted by an inbound handler, classified by the router,
// connected by an outbound handler, and spliced by the dispatcher.
package session

import (
	"context"
	"net"
)

// Network identifies the transport-layer shape of a session. It drives
// which outbound capability (stream vs datagram) a handler must offer.
type Network int

const (
	// NetworkStream is a reliable, ordered byte stream (TCP, TLS, etc).
	NetworkStream Network = iota
	// NetworkDatagram is an unordered message transport (UDP).
	NetworkDatagram
)

func (n Network) String() string {
	switch n {
	case NetworkStream:
		return "stream"
	case NetworkDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

// Session is the immutable description of one client flow, built once by
// the accepting inbound handler and read by every downstream component.
// It is always passed by pointer; nothing in the gateway mutates it after
// construction.
type Session struct {
	// Network is the transport shape of this session.
	Network Network
	// InboundTag names the inbound handler that accepted the session, as
	// it appears in the router's inbound-tag predicate.
	InboundTag string
	// Destination is the address the client asked to reach. Host may be a
	// domain name; the router and DNS client decide whether and when to
	// resolve it.
	Destination string
	// SourceAddr is the client's observed address, used only for logging
	// and NAT bookkeeping; never forwarded to the outbound as per spec.
	SourceAddr net.Addr
	// Context carries cancellation tied to the runtime's shutdown signal
	// and any per-session deadline set by the inbound handler.
	Context context.Context
}

// New builds a Session for a stream-shaped flow.
func New(ctx context.Context, inboundTag, destination string, src net.Addr) *Session {
	return &Session{
		Network:     NetworkStream,
		InboundTag:  inboundTag,
		Destination: destination,
		SourceAddr:  src,
		Context:     ctx,
	}
}

// NewDatagram builds a Session for a datagram-shaped flow.
func NewDatagram(ctx context.Context, inboundTag, destination string, src net.Addr) *Session {
	s := New(ctx, inboundTag, destination, src)
	s.Network = NetworkDatagram
	return s
}

// Host returns the destination's host component, without resolving it.
func (s *Session) Host() string {
	host, _, err := net.SplitHostPort(s.Destination)
	if err != nil {
		return s.Destination
	}
	return host
}

// Port returns the destination's numeric port, or 0 if it cannot be parsed.
func (s *Session) Port() int {
	_, portStr, err := net.SplitHostPort(s.Destination)
	if err != nil {
		return 0
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return 0
		}
		port = port*10 + int(c-'0')
	}
	return port
}
