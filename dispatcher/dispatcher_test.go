package dispatcher

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/natmanager"
	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRouter struct {
	tag string
	err error
}

func (r *fakeRouter) Route(ctx context.Context, sess *session.Session) (string, error) {
	return r.tag, r.err
}

// pipeStreamConn adapts one end of a net.Pipe into a transport.StreamConn;
// CloseRead/CloseWrite fall back to a full Close since net.Pipe has no
// half-close, which is sufficient for exercising splice()'s control flow.
type pipeStreamConn struct {
	net.Conn
}

func (p pipeStreamConn) CloseRead() error  { return p.Conn.Close() }
func (p pipeStreamConn) CloseWrite() error { return p.Conn.Close() }

func newPipeStreamConnPair() (transport.StreamConn, transport.StreamConn) {
	a, b := net.Pipe()
	return pipeStreamConn{a}, pipeStreamConn{b}
}

// echoOutboundHandler is a test outbound.Handler that hands back a fixed
// pre-wired StreamConn for every DialStream call.
type echoOutboundHandler struct {
	tag  string
	conn transport.StreamConn
}

func (h *echoOutboundHandler) Tag() string          { return h.tag }
func (h *echoOutboundHandler) Protocol() string      { return "dispatchertest" }
func (h *echoOutboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream
}
func (h *echoOutboundHandler) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	return h.conn, nil
}
func (h *echoOutboundHandler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	return nil, io.ErrClosedPipe
}

func buildOutboundManager(t *testing.T, tag string, conn transport.StreamConn) *outbound.Manager {
	t.Helper()
	outbound.Register("dispatchertest", func(tag string, settings map[string]any, deps outbound.Deps) (outbound.Handler, error) {
		return &echoOutboundHandler{tag: tag, conn: conn}, nil
	})
	m, err := outbound.Build([]config.HandlerConfig{
		{Tag: tag, Protocol: "dispatchertest"},
	})
	require.NoError(t, err)
	return m
}

func TestAcceptStreamSplicesBothDirections(t *testing.T) {
	upstreamOurEnd, upstreamRemoteEnd := newPipeStreamConnPair()
	clientOurEnd, clientRemoteEnd := newPipeStreamConnPair()

	outbounds := buildOutboundManager(t, "direct", upstreamOurEnd)
	nat := natmanager.New(context.Background(), time.Minute)
	d := New(&fakeRouter{tag: "direct"}, outbounds, nat, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := session.New(ctx, "in", "example.com:443", nil)

	go d.AcceptStream(sess, clientRemoteEnd)

	_, err := clientOurEnd.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(upstreamRemoteEnd, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	_, err = upstreamRemoteEnd.Write([]byte("world"))
	require.NoError(t, err)
	_, err = io.ReadFull(clientOurEnd, buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf))
}

func TestAcceptStreamRoutingFailureClosesClient(t *testing.T) {
	clientOurEnd, clientRemoteEnd := newPipeStreamConnPair()
	defer clientOurEnd.Close()

	outbounds := buildOutboundManager(t, "unused", clientOurEnd)
	nat := natmanager.New(context.Background(), time.Minute)
	d := New(&fakeRouter{tag: "", err: errRouteFailed}, outbounds, nat, zap.NewNop())

	sess := session.New(context.Background(), "in", "example.com:443", nil)
	d.AcceptStream(sess, clientRemoteEnd)

	_, err := clientRemoteEnd.Read(make([]byte, 1))
	require.Error(t, err)
}

var errRouteFailed = &routeErr{}

type routeErr struct{}

func (*routeErr) Error() string { return "no route" }
