package websocket

import (
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/stretchr/testify/require"
)

func TestNewOutboundHandlerRequiresURL(t *testing.T) {
	_, err := newOutboundHandler("t", map[string]any{}, outbound.Deps{})
	require.Error(t, err)
}

func TestNewOutboundHandlerRejectsInvalidURL(t *testing.T) {
	_, err := newOutboundHandler("t", map[string]any{"url": "://bad"}, outbound.Deps{})
	require.Error(t, err)
}

func TestNewOutboundHandlerBuildsWithPlainURL(t *testing.T) {
	h, err := newOutboundHandler("t", map[string]any{"url": "ws://127.0.0.1:9000/tunnel"}, outbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, "t", h.Tag())
	require.Equal(t, "websocket", h.Protocol())
	require.Equal(t, outbound.CapStream, h.Capabilities())
}

func TestNewOutboundHandlerBuildsWithTLSURL(t *testing.T) {
	h, err := newOutboundHandler("t", map[string]any{
		"url":         "wss://example.com/tunnel",
		"server_name": "example.com",
	}, outbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, "websocket", h.Protocol())
}
