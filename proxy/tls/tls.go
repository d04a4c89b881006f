// Package tls implements a plain TLS inbound/outbound pair: it neither
// dials nor authenticates a destination of its own, it only terminates
// or initiates the TLS layer and hands the inner plaintext stream off,
// per SPEC_FULL.md §4.1/§4.2 ("hands the inner stream to the next actor
// in a chain"). The outbound side is grounded on
// transport/tls/stream_dialer.go's dialer-wrapping pattern; the inbound
// side has no precedent in the corpus (transport/tls is client-only)
// and uses crypto/tls.Server directly, the same gap proxy/trojan's
// inbound fills the same way.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
	ttls "github.com/outline-sdk-contrib/ostrich-gateway/transport/tls"
)

func init() {
	outbound.Register("tls", newOutboundHandler)
	inbound.Register("tls", newInboundHandler)
}

type outboundHandler struct {
	tag        string
	tlsDialer  *ttls.StreamDialer
	serverName string
}

var _ outbound.Handler = (*outboundHandler)(nil)

func newOutboundHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	var opts []ttls.ClientOption
	serverName, _ := settings["server_name"].(string)
	if serverName != "" {
		opts = append(opts, ttls.WithSNI(serverName))
	}

	dialer, err := ttls.NewStreamDialer(&transport.TCPStreamDialer{}, opts...)
	if err != nil {
		return nil, fmt.Errorf("tls outbound %q: %w", tag, err)
	}
	return &outboundHandler{tag: tag, tlsDialer: dialer, serverName: serverName}, nil
}

func (h *outboundHandler) Tag() string      { return h.tag }
func (h *outboundHandler) Protocol() string { return "tls" }

func (h *outboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream
}

// DialStream dials addr over TCP and wraps it in a TLS client
// handshake; the returned stream carries no addressing of its own, it
// is the caller's job (e.g. a chained protocol handler) to write
// whatever header its own wire contract requires.
func (h *outboundHandler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	return h.tlsDialer.DialStream(ctx, addr)
}

type inboundHandler struct {
	tag       string
	listen    string
	nextHop   string
	tlsConfig *tls.Config
}

var _ inbound.Handler = (*inboundHandler)(nil)

// newInboundHandler builds a plain-TLS terminator. Since TLS alone
// carries no application routing information, "next_hop" names the
// fixed destination the decrypted stream is reported under; a chained
// protocol layered on top (see proxy/chain) would instead read its own
// address off the decrypted bytes.
func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("tls inbound %q: missing \"listen\"", tag)
	}
	nextHop, _ := settings["next_hop"].(string)
	if nextHop == "" {
		return nil, fmt.Errorf("tls inbound %q: missing \"next_hop\"", tag)
	}
	certFile, _ := settings["cert_file"].(string)
	keyFile, _ := settings["key_file"].(string)
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("tls inbound %q: missing \"cert_file\"/\"key_file\"", tag)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tls inbound %q: %w", tag, err)
	}

	return &inboundHandler{
		tag:       tag,
		listen:    listen,
		nextHop:   nextHop,
		tlsConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "tls" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("tls inbound %q: listen: %w", h.tag, err)
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
			return fmt.Errorf("tls inbound %q: accept: %w", h.tag, err)
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

	inner, _, err := h.Handshake(ctx, tcpConn)
	if err != nil {
		return
	}

	sess := session.New(ctx, h.tag, h.nextHop, tcpConn.RemoteAddr())
	acc.AcceptStream(sess, inner)
}

// Handshake implements inbound.StreamLayer, letting proxy/chain fold a
// TLS termination in as one layer of a composite instead of owning its
// own listener. TLS carries no destination of its own, so dest is
// always empty; the caller decides the routing destination.
func (h *inboundHandler) Handshake(ctx context.Context, raw transport.StreamConn) (transport.StreamConn, string, error) {
	tlsConn := tls.Server(raw, h.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, "", err
	}
	return &serverStreamConn{tlsConn: tlsConn, raw: raw}, "", nil
}

var _ inbound.StreamLayer = (*inboundHandler)(nil)

// serverStreamConn mirrors proxy/trojan's serverStreamConn: Write/Close
// go to the TLS conn, CloseRead falls back to the raw connection since
// tls.Conn has no native half-close-read.
type serverStreamConn struct {
	tlsConn *tls.Conn
	raw     transport.StreamConn
}

func (c *serverStreamConn) Read(b []byte) (int, error)  { return c.tlsConn.Read(b) }
func (c *serverStreamConn) Write(b []byte) (int, error) { return c.tlsConn.Write(b) }
func (c *serverStreamConn) Close() error                { return c.tlsConn.Close() }
func (c *serverStreamConn) CloseRead() error            { return c.raw.CloseRead() }
func (c *serverStreamConn) CloseWrite() error           { return c.tlsConn.CloseWrite() }
func (c *serverStreamConn) LocalAddr() net.Addr         { return c.tlsConn.LocalAddr() }
func (c *serverStreamConn) RemoteAddr() net.Addr        { return c.tlsConn.RemoteAddr() }

func (c *serverStreamConn) SetDeadline(t time.Time) error      { return c.tlsConn.SetDeadline(t) }
func (c *serverStreamConn) SetReadDeadline(t time.Time) error   { return c.tlsConn.SetReadDeadline(t) }
func (c *serverStreamConn) SetWriteDeadline(t time.Time) error  { return c.tlsConn.SetWriteDeadline(t) }
