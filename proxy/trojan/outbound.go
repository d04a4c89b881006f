package trojan

import (
	"context"
	"fmt"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
	ttls "github.com/outline-sdk-contrib/ostrich-gateway/transport/tls"
)

func init() {
	outbound.Register("trojan", newOutboundHandler)
}

type outboundHandler struct {
	tag        string
	serverAddr string
	password   string
	tlsDialer  *ttls.StreamDialer
}

var _ outbound.Handler = (*outboundHandler)(nil)

func newOutboundHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	addr, _ := settings["address"].(string)
	if addr == "" {
		return nil, fmt.Errorf("trojan outbound %q: missing \"address\"", tag)
	}
	password, _ := settings["password"].(string)
	if password == "" {
		return nil, fmt.Errorf("trojan outbound %q: missing \"password\"", tag)
	}

	base := &transport.TCPStreamDialer{}
	var opts []ttls.ClientOption
	if sni, _ := settings["server_name"].(string); sni != "" {
		opts = append(opts, ttls.WithSNI(sni))
	}
	tlsDialer, err := ttls.NewStreamDialer(base, opts...)
	if err != nil {
		return nil, fmt.Errorf("trojan outbound %q: %w", tag, err)
	}

	return &outboundHandler{tag: tag, serverAddr: addr, password: password, tlsDialer: tlsDialer}, nil
}

func (h *outboundHandler) Tag() string      { return h.tag }
func (h *outboundHandler) Protocol() string { return "trojan" }

func (h *outboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream | outbound.CapDatagram
}

// DialStream connects to the trojan server, completes the TLS handshake,
// then writes the trojan preamble (hex password, TCP command, target
// address) before handing the still-open connection to the caller, as
// spec.md §6 describes.
func (h *outboundHandler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	conn, err := h.tlsDialer.DialStream(ctx, h.serverAddr)
	if err != nil {
		return nil, err
	}
	if err := writeHeader(conn, h.password, cmdConnect, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialPacket connects to the trojan server with the UDP command, then
// wraps the connection so every Write/Read is framed per spec.md §6's
// UDP record format (addr, 2-byte length, CRLF, payload).
func (h *outboundHandler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := h.tlsDialer.DialStream(ctx, h.serverAddr)
	if err != nil {
		return nil, err
	}
	if err := writeHeader(conn, h.password, cmdUDP, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return newUDPConn(conn, addr), nil
}
