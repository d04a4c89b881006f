package quicinbound

import (
	"bytes"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/stretchr/testify/require"
)

func TestNewInboundHandlerRequiresListen(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{
		"cert_file": "cert.pem",
		"key_file":  "key.pem",
	}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerRequiresCertAndKey(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{"listen": "127.0.0.1:0"}, inbound.Deps{})
	require.Error(t, err)
}

func TestReadAddrRoundTripsIPv4(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{127, 0, 0, 1, 0x1, 0xbb})
	dest, err := readAddr(&buf, addrTypeIPv4)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:443", dest)
}

func TestReadAddrRoundTripsDomainName(t *testing.T) {
	var buf bytes.Buffer
	host := "example.com"
	buf.WriteByte(byte(len(host)))
	buf.WriteString(host)
	buf.Write([]byte{0x01, 0xbb})
	dest, err := readAddr(&buf, addrTypeDomainName)
	require.NoError(t, err)
	require.Equal(t, "example.com:443", dest)
}
