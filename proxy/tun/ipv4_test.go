package tun

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIPv4ThenParseRoundTrips(t *testing.T) {
	src := [4]byte{10, 233, 233, 1}
	dst := [4]byte{93, 184, 216, 34}
	payload := []byte("hello")

	pkt := buildIPv4(protoTCP, src, dst, payload)
	hdr, body, err := parseIPv4(pkt)
	require.NoError(t, err)
	require.Equal(t, src, hdr.src)
	require.Equal(t, dst, hdr.dst)
	require.Equal(t, byte(protoTCP), hdr.protocol)
	require.Equal(t, payload, body)
}

func TestBuildIPv4ChecksumIsValid(t *testing.T) {
	pkt := buildIPv4(protoUDP, [4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, []byte{0xaa})
	require.Equal(t, uint16(0), checksum(pkt[:20], 0))
}

func TestParseIPv4RejectsShortPacket(t *testing.T) {
	_, _, err := parseIPv4([]byte{0x45, 0, 0, 1})
	require.Error(t, err)
}

func TestParseIPv4RejectsNonIPv4(t *testing.T) {
	pkt := make([]byte, 20)
	pkt[0] = 0x65 // version 6
	_, _, err := parseIPv4(pkt)
	require.Error(t, err)
}
