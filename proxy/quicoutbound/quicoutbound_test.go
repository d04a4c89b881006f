package quicoutbound

import (
	"bytes"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/stretchr/testify/require"
)

func TestNewOutboundHandlerRequiresAddress(t *testing.T) {
	_, err := newOutboundHandler("t", map[string]any{}, outbound.Deps{})
	require.Error(t, err)
}

func TestNewOutboundHandlerDefaultsALPN(t *testing.T) {
	h, err := newOutboundHandler("t", map[string]any{"address": "127.0.0.1:9443"}, outbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, "quic", h.Protocol())
	require.Equal(t, outbound.CapStream, h.Capabilities())
	require.Equal(t, []string{"ostrich-quic"}, h.(*outboundHandler).tlsConfig.NextProtos)
}

func TestWriteAddrWritesNonEmptyHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAddr(&buf, "example.com:443"))
	require.NotZero(t, buf.Len())
}
