// Package inbound implements the gateway's inbound handler set: listeners
// that accept client traffic, build a Session for each flow, and hand it
// to an Acceptor (the dispatcher) for classification and forwarding.
package inbound

import (
	"context"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

// Acceptor receives sessions produced by an inbound handler. The
// dispatcher is the only production implementation; tests can supply a
// fake to observe what a handler would have forwarded.
type Acceptor interface {
	AcceptStream(sess *session.Session, conn transport.StreamConn)
	// AcceptPacket delivers one datagram from clientAddr, already read off
	// conn by the inbound handler. payload is only valid for the duration
	// of the call; conn is used to send any replies back to the client.
	AcceptPacket(sess *session.Session, payload []byte, conn net.PacketConn, clientAddr net.Addr)
}

// Handler is one inbound protocol listener. Serve blocks, accepting
// sessions and handing each to acc, until ctx is cancelled or an
// unrecoverable listener error occurs (individual malformed peers must
// never cause Serve to return early — only the listener socket itself
// failing does).
type Handler interface {
	Tag() string
	Protocol() string
	Serve(ctx context.Context, acc Acceptor) error
}

// Factory builds a Handler from a tag and decoded settings. deps gives
// composite handlers (Chain/AMux) access to other already-built inbound
// handlers by tag.
type Factory func(tag string, settings map[string]any, deps Deps) (Handler, error)

// StreamLayer is implemented by inbound handlers whose protocol can be
// folded into a proxy/chain composite instead of always owning its own
// listener. Handshake runs this layer's handshake/framing over raw
// (already accepted by some outer listener, e.g. Chain's own) and
// returns the inner stream for the next layer to process. If this
// layer's wire format itself carries a destination (trojan's header,
// for instance), dest is non-empty and is the final routing
// destination; a zero-value dest means the caller (Chain, or the next
// layer) decides the destination some other way.
type StreamLayer interface {
	Handshake(ctx context.Context, raw transport.StreamConn) (inner transport.StreamConn, dest string, err error)
}

// Deps mirrors outbound.Deps for inbound composites.
type Deps struct {
	ByTag func(tag string) (Handler, bool)
}

var registry = map[string]Factory{}

// Register adds a Factory under protocol name.
func Register(protocol string, f Factory) {
	registry[protocol] = f
}

func lookupFactory(protocol string) (Factory, bool) {
	f, ok := registry[protocol]
	return f, ok
}
