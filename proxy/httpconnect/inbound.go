package httpconnect

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
)

func init() {
	inbound.Register("http-connect", newInboundHandler)
}

// inboundHandler is the server side of the HTTP CONNECT method (RFC
// 9110 §9.3.6): parse the request line and headers off the accepted
// connection directly (no net/http.Server, since the Acceptor model
// works off a raw net.Conn, not a hijacked ResponseWriter/Request, the
// way the teacher's x/httpproxy connectHandler does it), reply "200
// Connection established", then hand the rest of the connection to acc.
type inboundHandler struct {
	tag    string
	listen string
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("http-connect inbound %q: missing \"listen\"", tag)
	}
	return &inboundHandler{tag: tag, listen: listen}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "http-connect" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("http-connect inbound %q: listen: %w", h.tag, err)
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
			return fmt.Errorf("http-connect inbound %q: accept: %w", h.tag, err)
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

	r := bufio.NewReader(tcpConn)
	req, err := http.ReadRequest(r)
	if err != nil {
		tcpConn.Close()
		return
	}
	if req.Method != http.MethodConnect {
		tcpConn.Close()
		return
	}

	if _, err := tcpConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		tcpConn.Close()
		return
	}

	sess := session.New(ctx, h.tag, req.Host, tcpConn.RemoteAddr())
	acc.AcceptStream(sess, &streamConn{raw: tcpConn, r: r})
}

// streamConn wraps tcpConn so Read goes through r (the buffered reader
// the CONNECT request was parsed from, so no bytes already buffered
// past the request's blank line are lost); Write/Close/half-close fall
// back to the raw TCP connection directly, mirroring proxy/trojan's and
// proxy/tls's serverStreamConn.
type streamConn struct {
	raw *net.TCPConn
	r   *bufio.Reader
}

func (c *streamConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c *streamConn) Write(b []byte) (int, error) { return c.raw.Write(b) }
func (c *streamConn) Close() error                { return c.raw.Close() }
func (c *streamConn) CloseRead() error            { return c.raw.CloseRead() }
func (c *streamConn) CloseWrite() error           { return c.raw.CloseWrite() }
func (c *streamConn) LocalAddr() net.Addr         { return c.raw.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr        { return c.raw.RemoteAddr() }
func (c *streamConn) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }
