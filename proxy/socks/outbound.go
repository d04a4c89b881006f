// Package socks implements the gateway's SOCKS5 inbound listener and
// outbound dialer.
//
// The outbound side wraps transport/socks5's client dialers as-is; the
// inbound side is new server-side code (the teacher's transport/socks5
// package only ever implements the client half), whose wire format
// mirrors transport/socks5/socks5.go's address encoding and RFC1928
// command/reply constants.
package socks

import (
	"context"
	"fmt"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport/socks5"
)

func init() {
	outbound.Register("socks", newOutboundHandler)
}

type outboundHandler struct {
	tag    string
	addr   string
	stream *socks5.StreamDialer
	packet *socks5.PacketDialer
}

var _ outbound.Handler = (*outboundHandler)(nil)

func newOutboundHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	addr, _ := settings["address"].(string)
	if addr == "" {
		return nil, fmt.Errorf("socks outbound %q: missing \"address\"", tag)
	}

	streamEndpoint := &transport.TCPEndpoint{Address: addr}
	streamDialer, err := socks5.NewStreamDialer(streamEndpoint)
	if err != nil {
		return nil, fmt.Errorf("socks outbound %q: %w", tag, err)
	}
	if user, _ := settings["username"].(string); user != "" {
		pass, _ := settings["password"].(string)
		if err := streamDialer.SetCredentials([]byte(user), []byte(pass)); err != nil {
			return nil, fmt.Errorf("socks outbound %q: %w", tag, err)
		}
	}

	packetEndpoint := &transport.UDPEndpoint{Address: addr}
	packetDialer, err := socks5.NewPacketDialer(packetEndpoint)
	if err != nil {
		return nil, fmt.Errorf("socks outbound %q: %w", tag, err)
	}

	return &outboundHandler{tag: tag, addr: addr, stream: streamDialer, packet: packetDialer}, nil
}

func (h *outboundHandler) Tag() string      { return h.tag }
func (h *outboundHandler) Protocol() string { return "socks" }

func (h *outboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream | outbound.CapDatagram
}

func (h *outboundHandler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	return h.stream.DialStream(ctx, addr)
}

func (h *outboundHandler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	return h.packet.Dial(ctx, addr)
}
