package tls

import (
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/stretchr/testify/require"
)

func TestNewOutboundHandlerDefaultsServerNameEmpty(t *testing.T) {
	h, err := newOutboundHandler("t", map[string]any{}, outbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, "t", h.Tag())
	require.Equal(t, "tls", h.Protocol())
}

func TestNewOutboundHandlerCapabilitiesIsStreamOnly(t *testing.T) {
	h, err := newOutboundHandler("t", map[string]any{}, outbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, outbound.CapStream, h.Capabilities())
}

func TestNewInboundHandlerRequiresListen(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{
		"next_hop":  "example.com:443",
		"cert_file": "cert.pem",
		"key_file":  "key.pem",
	}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerRequiresNextHop(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{
		"listen":    "127.0.0.1:0",
		"cert_file": "cert.pem",
		"key_file":  "key.pem",
	}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerRequiresCertAndKey(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{
		"listen":   "127.0.0.1:0",
		"next_hop": "example.com:443",
	}, inbound.Deps{})
	require.Error(t, err)
}
