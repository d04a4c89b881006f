package shadowsocks

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
	tsshadowsocks "github.com/outline-sdk-contrib/ostrich-gateway/transport/shadowsocks"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport/shadowsocks/sswrap"
)

func init() {
	outbound.Register("shadowsocks", newOutboundHandler)
}

type outboundHandler struct {
	tag        string
	serverAddr string
	key        *tsshadowsocks.EncryptionKey
	stream     *transport.TCPStreamDialer
}

var _ outbound.Handler = (*outboundHandler)(nil)

func newOutboundHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	addr, _ := settings["address"].(string)
	if addr == "" {
		return nil, fmt.Errorf("shadowsocks outbound %q: missing \"address\"", tag)
	}
	password, _ := settings["password"].(string)
	if password == "" {
		return nil, fmt.Errorf("shadowsocks outbound %q: missing \"password\"", tag)
	}
	cipherName, _ := settings["cipher"].(string)
	if cipherName == "" {
		cipherName = tsshadowsocks.CHACHA20IETFPOLY1305
	}

	key, err := tsshadowsocks.NewEncryptionKey(cipherName, password)
	if err != nil {
		return nil, fmt.Errorf("shadowsocks outbound %q: %w", tag, err)
	}

	return &outboundHandler{
		tag:        tag,
		serverAddr: addr,
		key:        key,
		stream:     &transport.TCPStreamDialer{},
	}, nil
}

func (h *outboundHandler) Tag() string      { return h.tag }
func (h *outboundHandler) Protocol() string { return "shadowsocks" }

func (h *outboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream | outbound.CapDatagram
}

// DialStream dials the shadowsocks server, wraps the connection in the
// AEAD stream cipher, then writes the SOCKS5-style destination address
// as the stream's first bytes, exactly as the shadowsocks TCP Relay
// protocol prefixes every proxied connection.
func (h *outboundHandler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	raw, err := h.stream.Dial(ctx, h.serverAddr)
	if err != nil {
		return nil, err
	}
	wrapper := &sswrap.StreamConnWrapper{Key: h.key}
	conn, err := wrapper.WrapConn(ctx, raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	encoded, err := encodeAddr(addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(encoded); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialPacket connects a UDP socket to the shadowsocks server and wraps
// it so every Write/Read is sealed/opened per-packet with Pack/Unpack,
// each packet carrying its own random salt and a SOCKS5-style address
// prefix ahead of the application payload.
func (h *outboundHandler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := net.Dial("udp", h.serverAddr)
	if err != nil {
		return nil, err
	}
	return &outboundPacketConn{conn: conn, key: h.key, dest: addr}, nil
}

// outboundPacketConn adapts a UDP socket connected to a shadowsocks
// server into a net.Conn bound to one destination: every Write is
// prefixed with dest's SOCKS5-style address and Pack-sealed with its
// own random salt, every Read is Unpack-opened and its address prefix
// stripped, per https://shadowsocks.org/en/spec/UDP.html.
type outboundPacketConn struct {
	conn net.Conn
	key  *tsshadowsocks.EncryptionKey
	dest string
}

var _ net.Conn = (*outboundPacketConn)(nil)

func (c *outboundPacketConn) Write(b []byte) (int, error) {
	addrBytes, err := encodeAddr(c.dest)
	if err != nil {
		return 0, err
	}
	plaintext := append(addrBytes, b...)
	dst := make([]byte, c.key.SaltSize()+len(plaintext)+c.key.TagSize())
	packet, err := tsshadowsocks.Pack(dst, plaintext, c.key)
	if err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(packet); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *outboundPacketConn) Read(b []byte) (int, error) {
	buf := make([]byte, 64*1024)
	n, err := c.conn.Read(buf)
	if err != nil {
		return 0, err
	}
	plaintext, err := tsshadowsocks.Unpack(nil, buf[:n], c.key)
	if err != nil {
		return 0, err
	}
	_, payload, err := parseAddrFromBytes(plaintext)
	if err != nil {
		return 0, err
	}
	return copy(b, payload), nil
}

func (c *outboundPacketConn) Close() error                       { return c.conn.Close() }
func (c *outboundPacketConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *outboundPacketConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *outboundPacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *outboundPacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *outboundPacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
