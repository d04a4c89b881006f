package direct

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/stretchr/testify/require"
)

func TestDialStreamConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	h, err := newHandler("direct", nil, outbound.Deps{})
	require.NoError(t, err)
	require.True(t, h.Capabilities().Has(outbound.CapStream))
	require.True(t, h.Capabilities().Has(outbound.CapDatagram))

	conn, err := h.DialStream(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestDialPacketToUDPListener(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	h, err := newHandler("direct", nil, outbound.Deps{})
	require.NoError(t, err)

	conn, err := h.DialPacket(context.Background(), pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hi"))
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))
}
