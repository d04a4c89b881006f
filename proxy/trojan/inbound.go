package trojan

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	inbound.Register("trojan", newInboundHandler)
}

type inboundHandler struct {
	tag       string
	listen    string
	wantHash  string
	tlsConfig *tls.Config
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("trojan inbound %q: missing \"listen\"", tag)
	}
	password, _ := settings["password"].(string)
	if password == "" {
		return nil, fmt.Errorf("trojan inbound %q: missing \"password\"", tag)
	}
	certFile, _ := settings["cert_file"].(string)
	keyFile, _ := settings["key_file"].(string)
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("trojan inbound %q: missing \"cert_file\"/\"key_file\"", tag)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("trojan inbound %q: %w", tag, err)
	}

	return &inboundHandler{
		tag:       tag,
		listen:    listen,
		wantHash:  hashPassword(password),
		tlsConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "trojan" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("trojan inbound %q: listen: %w", h.tag, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("trojan inbound %q: accept: %w", h.tag, err)
		}
		go h.serveConn(ctx, conn, acc)
	}
}

func (h *inboundHandler) serveConn(ctx context.Context, raw net.Conn, acc inbound.Acceptor) {
	tcpConn, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return
	}

	tlsConn := tls.Server(tcpConn, h.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return
	}

	r := bufio.NewReader(tlsConn)
	cmd, dest, err := readHeader(r, h.wantHash)
	if err != nil {
		tlsConn.Close()
		return
	}

	switch cmd {
	case cmdConnect:
		sess := session.New(ctx, h.tag, dest, tcpConn.RemoteAddr())
		acc.AcceptStream(sess, &serverStreamConn{tlsConn: tlsConn, raw: tcpConn, r: r})
	case cmdUDP:
		serveUDPOverStream(ctx, r, tlsConn, h.tag, acc)
		tlsConn.Close()
	default:
		tlsConn.Close()
	}
}

// Handshake implements inbound.StreamLayer, letting proxy/chain fold a
// trojan terminator in as the last layer of a composite. Unlike
// tls/websocket, trojan's header carries a real destination, so dest is
// non-empty on success; cmdUDP has no inner stream to hand the next
// layer and is rejected here (see serveConn for that path when trojan
// owns its own listener).
func (h *inboundHandler) Handshake(ctx context.Context, raw transport.StreamConn) (transport.StreamConn, string, error) {
	tlsConn := tls.Server(raw, h.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, "", err
	}

	r := bufio.NewReader(tlsConn)
	cmd, dest, err := readHeader(r, h.wantHash)
	if err != nil {
		tlsConn.Close()
		return nil, "", err
	}
	if cmd != cmdConnect {
		tlsConn.Close()
		return nil, "", fmt.Errorf("trojan inbound %q: command %d unsupported as a chain layer", h.tag, cmd)
	}
	return &serverStreamConn{tlsConn: tlsConn, raw: raw, r: r}, dest, nil
}

var _ inbound.StreamLayer = (*inboundHandler)(nil)

// serverStreamConn is the transport.StreamConn handed to AcceptStream
// for a trojan CONNECT command: Read goes through r (the buffered
// reader the header was parsed from, so no trailing payload bytes are
// lost), Write/Close go to the TLS conn directly, and CloseRead falls
// back to the raw connection since tls.Conn has no half-close-read.
type serverStreamConn struct {
	tlsConn *tls.Conn
	raw     transport.StreamConn
	r       *bufio.Reader
}

func (c *serverStreamConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c *serverStreamConn) Write(b []byte) (int, error) { return c.tlsConn.Write(b) }
func (c *serverStreamConn) Close() error                { return c.tlsConn.Close() }
func (c *serverStreamConn) CloseRead() error            { return c.raw.CloseRead() }
func (c *serverStreamConn) CloseWrite() error           { return c.tlsConn.CloseWrite() }
func (c *serverStreamConn) LocalAddr() net.Addr         { return c.tlsConn.LocalAddr() }
func (c *serverStreamConn) RemoteAddr() net.Addr        { return c.tlsConn.RemoteAddr() }
func (c *serverStreamConn) SetDeadline(t time.Time) error      { return c.tlsConn.SetDeadline(t) }
func (c *serverStreamConn) SetReadDeadline(t time.Time) error  { return c.tlsConn.SetReadDeadline(t) }
func (c *serverStreamConn) SetWriteDeadline(t time.Time) error { return c.tlsConn.SetWriteDeadline(t) }
