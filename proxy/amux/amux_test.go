package amux

import (
	"encoding/hex"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
)

func TestNewInboundHandlerRequiresListen(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerDefaultsDelim(t *testing.T) {
	h, err := newInboundHandler("t", map[string]any{"listen": "127.0.0.1:0"}, inbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, byte('\n'), h.(*inboundHandler).delim)
	require.Equal(t, "amux", h.Protocol())
}

func TestNewInboundHandlerAcceptsCustomDelim(t *testing.T) {
	h, err := newInboundHandler("t", map[string]any{"listen": "127.0.0.1:0", "delim": ";"}, inbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, byte(';'), h.(*inboundHandler).delim)
}

func TestFrameRoundTripsThroughCBORAndHex(t *testing.T) {
	payload := []byte("example.com:443")
	encoded, err := cbor.Marshal(frame{K: 'a', D: hex.EncodeToString(payload)})
	require.NoError(t, err)

	var f frame
	require.NoError(t, cbor.Unmarshal(encoded, &f))
	require.Equal(t, rune('a'), f.K)

	decoded, err := hex.DecodeString(f.D)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestMuxConnCloseAllWithNoStreamsDoesNotPanic(t *testing.T) {
	m := &muxConn{conn: nil, delim: '\n', streams: make(map[rune]*muxStream)}
	// No streams registered yet; closeAll on an empty map must be a no-op.
	m.closeAll()
}
