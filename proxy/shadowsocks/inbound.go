package shadowsocks

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	tsshadowsocks "github.com/outline-sdk-contrib/ostrich-gateway/transport/shadowsocks"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport/shadowsocks/sswrap"
)

func init() {
	inbound.Register("shadowsocks", newInboundHandler)
}

type inboundHandler struct {
	tag    string
	listen string
	key    *tsshadowsocks.EncryptionKey
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("shadowsocks inbound %q: missing \"listen\"", tag)
	}
	password, _ := settings["password"].(string)
	if password == "" {
		return nil, fmt.Errorf("shadowsocks inbound %q: missing \"password\"", tag)
	}
	cipherName, _ := settings["cipher"].(string)
	if cipherName == "" {
		cipherName = tsshadowsocks.CHACHA20IETFPOLY1305
	}

	key, err := tsshadowsocks.NewEncryptionKey(cipherName, password)
	if err != nil {
		return nil, fmt.Errorf("shadowsocks inbound %q: %w", tag, err)
	}

	return &inboundHandler{tag: tag, listen: listen, key: key}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "shadowsocks" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	tcpLn, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("shadowsocks inbound %q: listen tcp: %w", h.tag, err)
	}
	udpConn, err := net.ListenPacket("udp", h.listen)
	if err != nil {
		tcpLn.Close()
		return fmt.Errorf("shadowsocks inbound %q: listen udp: %w", h.tag, err)
	}
	go func() {
		<-ctx.Done()
		tcpLn.Close()
		udpConn.Close()
	}()

	go h.serveUDP(ctx, udpConn, acc)

	for {
		conn, err := tcpLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("shadowsocks inbound %q: accept: %w", h.tag, err)
		}
		go h.serveConn(ctx, conn, acc)
	}
}

// serveConn wraps an accepted TCP connection in the AEAD stream cipher,
// reads the SOCKS5-style destination address the shadowsocks TCP Relay
// protocol prefixes every proxied connection with, then hands the rest
// of the decrypted stream to acc as a CONNECT session.
func (h *inboundHandler) serveConn(ctx context.Context, raw net.Conn, acc inbound.Acceptor) {
	tcpConn, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return
	}

	wrapper := &sswrap.StreamConnWrapper{Key: h.key}
	conn, err := wrapper.WrapConn(ctx, tcpConn)
	if err != nil {
		tcpConn.Close()
		return
	}

	dest, err := readAddr(conn)
	if err != nil {
		conn.Close()
		return
	}

	sess := session.New(ctx, h.tag, dest, tcpConn.RemoteAddr())
	acc.AcceptStream(sess, conn)
}

// serveUDP reads shadowsocks UDP Relay packets off a shared socket:
// every datagram is independently salted and sealed, so each is
// Unpack-opened, its address prefix parsed, and delivered to acc as its
// own datagram session with a fresh relayPacketConn that sends replies
// to the packet's source address.
func (h *inboundHandler) serveUDP(ctx context.Context, conn net.PacketConn, acc inbound.Acceptor) {
	buf := make([]byte, 64*1024)
	for {
		n, clientAddr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		plaintext, err := tsshadowsocks.Unpack(nil, pkt, h.key)
		if err != nil {
			continue
		}
		dest, payload, err := parseAddrFromBytes(plaintext)
		if err != nil {
			continue
		}

		relay := &relayPacketConn{conn: conn, key: h.key, clientAddr: clientAddr}
		sess := session.NewDatagram(ctx, h.tag, dest, clientAddr)
		acc.AcceptPacket(sess, payload, relay, clientAddr)
	}
}

// relayPacketConn is the net.PacketConn handed to the dispatcher for a
// shadowsocks UDP flow: every reply is prefixed with its source
// address, Pack-sealed with a fresh salt, and sent back to the
// original client address over the shared listening socket.
type relayPacketConn struct {
	conn       net.PacketConn
	key        *tsshadowsocks.EncryptionKey
	clientAddr net.Addr
}

var _ net.PacketConn = (*relayPacketConn)(nil)

func (c *relayPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	addrBytes, err := encodeAddr(addr.String())
	if err != nil {
		return 0, err
	}
	plaintext := append(addrBytes, b...)
	dst := make([]byte, c.key.SaltSize()+len(plaintext)+c.key.TagSize())
	packet, err := tsshadowsocks.Pack(dst, plaintext, c.key)
	if err != nil {
		return 0, err
	}
	if _, err := c.conn.WriteTo(packet, c.clientAddr); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ReadFrom is unused: serveUDP owns the shared socket and delivers each
// datagram to the dispatcher directly via AcceptPacket.
func (c *relayPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return 0, nil, net.ErrClosed
}

func (c *relayPacketConn) Close() error                      { return nil }
func (c *relayPacketConn) LocalAddr() net.Addr               { return c.conn.LocalAddr() }
func (c *relayPacketConn) SetDeadline(t time.Time) error      { return nil }
func (c *relayPacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *relayPacketConn) SetWriteDeadline(t time.Time) error { return nil }
