// Package direct implements the "direct" outbound handler: dial the
// destination straight off the network, optionally bound to a specific
// outbound network interface (the gateway's per-outbound
// "bind_interface" setting, which overrides the process-wide -b/
// OUTBOUND_INTERFACE CLI setting that transport.TCPStreamDialer/
// UDPDialer already apply on their own).
//
// Grounded on the teacher's transport.TCPStreamDialer/UDPDialer (a thin
// net.Dialer wrapper satisfying transport.StreamDialer/PacketDialer);
// interface binding reuses transport.BindToInterfaceControl, split by
// build tag the same way proxy/sockopt's is_sending_bytes_*.go files
// are.
package direct

import (
	"context"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	outbound.Register("direct", newHandler)
}

type handler struct {
	tag    string
	stream *transport.TCPStreamDialer
	packet *transport.UDPDialer
}

var _ outbound.Handler = (*handler)(nil)

func newHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	iface, _ := settings["bind_interface"].(string)

	dialer := net.Dialer{}
	if iface != "" {
		dialer.Control = transport.BindToInterfaceControl(iface)
	}

	return &handler{
		tag:    tag,
		stream: &transport.TCPStreamDialer{Dialer: dialer},
		packet: &transport.UDPDialer{Dialer: dialer},
	}, nil
}

func (h *handler) Tag() string      { return h.tag }
func (h *handler) Protocol() string { return "direct" }

func (h *handler) Capabilities() outbound.Capability {
	return outbound.CapStream | outbound.CapDatagram
}

func (h *handler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	return h.stream.Dial(ctx, addr)
}

func (h *handler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	return h.packet.Dial(ctx, addr)
}
