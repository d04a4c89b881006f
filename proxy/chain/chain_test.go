package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func TestNewInboundHandlerRequiresListen(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{
		"layers": []any{"tls-in"},
	}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerRequiresLayers(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{
		"listen": "127.0.0.1:0",
	}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerRejectsUnresolvedLayer(t *testing.T) {
	deps := inbound.Deps{ByTag: func(string) (inbound.Handler, bool) { return nil, false }}
	_, err := newInboundHandler("t", map[string]any{
		"listen": "127.0.0.1:0",
		"layers": []any{"tls-in"},
	}, deps)
	require.Error(t, err)
}

func TestNewInboundHandlerRejectsNonChainableLayer(t *testing.T) {
	deps := inbound.Deps{ByTag: func(string) (inbound.Handler, bool) { return &plainHandler{}, true }}
	_, err := newInboundHandler("t", map[string]any{
		"listen": "127.0.0.1:0",
		"layers": []any{"socks-in"},
	}, deps)
	require.Error(t, err)
}

func TestNewInboundHandlerAcceptsChainableLayer(t *testing.T) {
	deps := inbound.Deps{ByTag: func(string) (inbound.Handler, bool) { return &stubLayer{}, true }}
	h, err := newInboundHandler("t", map[string]any{
		"listen": "127.0.0.1:0",
		"layers": []any{"a"},
	}, deps)
	require.NoError(t, err)
	require.Equal(t, "chain", h.Protocol())
	require.Equal(t, "t", h.Tag())
}

// stubLayer is a fake inbound.StreamLayer/inbound.Handler combination
// used only to satisfy the type assertion in newInboundHandler; its
// Handshake is never exercised by these constructor-level tests.
type stubLayer struct{}

func (l *stubLayer) Tag() string                                  { return "a" }
func (l *stubLayer) Protocol() string                             { return "tls" }
func (l *stubLayer) Serve(context.Context, inbound.Acceptor) error { return nil }
func (l *stubLayer) Handshake(context.Context, transport.StreamConn) (transport.StreamConn, string, error) {
	return nil, "", nil
}

// plainHandler is an inbound.Handler that does not implement StreamLayer,
// used to exercise the "layer isn't chainable" rejection above.
type plainHandler struct{}

func (p *plainHandler) Tag() string                                  { return "p" }
func (p *plainHandler) Protocol() string                             { return "socks" }
func (p *plainHandler) Serve(context.Context, inbound.Acceptor) error { return nil }
