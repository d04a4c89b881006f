package httpconnect

import (
	"context"
	"fmt"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	outbound.Register("http-connect", newOutboundHandler)
}

// outboundHandler wires ConnectClient, an HTTP CONNECT
// transport.StreamDialer, into the outbound registry: the wire
// protocol is entirely ConnectClient's, this just adapts its
// constructor/settings shape to outbound.Factory.
type outboundHandler struct {
	tag    string
	client *ConnectClient
}

var _ outbound.Handler = (*outboundHandler)(nil)

func newOutboundHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	proxyAddr, _ := settings["address"].(string)
	if proxyAddr == "" {
		return nil, fmt.Errorf("http-connect outbound %q: missing \"address\"", tag)
	}

	var opts []ClientOption
	if https, _ := settings["https"].(bool); https {
		opts = append(opts, WithHTTPS(nil))
	}

	client, err := NewConnectClient(&transport.TCPStreamDialer{}, proxyAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("http-connect outbound %q: %w", tag, err)
	}
	return &outboundHandler{tag: tag, client: client}, nil
}

func (h *outboundHandler) Tag() string      { return h.tag }
func (h *outboundHandler) Protocol() string { return "http-connect" }

func (h *outboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream
}

func (h *outboundHandler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	return h.client.DialStream(ctx, addr)
}

func (h *outboundHandler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	return nil, fmt.Errorf("http-connect outbound %q: datagrams not supported", h.tag)
}
