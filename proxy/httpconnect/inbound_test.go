package httpconnect

import (
	"bufio"
	"net/http"
	"strings"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/stretchr/testify/require"
)

func TestNewInboundHandlerRequiresListen(t *testing.T) {
	_, err := newInboundHandler("t", map[string]any{}, inbound.Deps{})
	require.Error(t, err)
}

func TestNewInboundHandlerBuildsWithListen(t *testing.T) {
	h, err := newInboundHandler("t", map[string]any{"listen": "127.0.0.1:0"}, inbound.Deps{})
	require.NoError(t, err)
	require.Equal(t, "t", h.Tag())
	require.Equal(t, "http-connect", h.Protocol())
}

func TestReadRequestParsesConnectTarget(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	require.Equal(t, http.MethodConnect, req.Method)
	require.Equal(t, "example.com:443", req.Host)
}
