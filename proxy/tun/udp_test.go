package tun

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildUDPThenParseRoundTrips(t *testing.T) {
	src := [4]byte{10, 233, 233, 1}
	dst := [4]byte{8, 8, 8, 8}
	seg := buildUDP(40000, 53, src, dst, []byte("query"))

	dgram, err := parseUDP(seg)
	require.NoError(t, err)
	require.Equal(t, uint16(40000), dgram.srcPort)
	require.Equal(t, uint16(53), dgram.dstPort)
	require.Equal(t, []byte("query"), dgram.data)
}

func TestBuildUDPNeverEmitsZeroChecksum(t *testing.T) {
	// RFC 768: a zero checksum field means "no checksum"; buildUDP must
	// substitute 0xffff whenever the computed value is literally zero.
	seg := buildUDP(0, 0, [4]byte{}, [4]byte{}, nil)
	cksum := uint16(seg[6])<<8 | uint16(seg[7])
	require.NotZero(t, cksum)
}

func TestParseUDPRejectsShortSegment(t *testing.T) {
	_, err := parseUDP([]byte{0, 1, 2})
	require.Error(t, err)
}
