package websocket

import (
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/stretchr/testify/require"
)

func TestNewInboundHandlerRequiresListen(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{"next_hop": "example.com:443"}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerRequiresNextHop(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{"listen": "127.0.0.1:0"}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerDefaultsPath(t *testing.T) {
	h, err := newInboundHandler("t", map[string]any{
		"listen":   "127.0.0.1:0",
		"next_hop": "example.com:443",
	}, inbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, "/", h.(*inboundHandler).path)
	require.Equal(t, "websocket", h.Protocol())
}
