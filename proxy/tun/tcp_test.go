package tun

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildTCPThenParseRoundTrips(t *testing.T) {
	src := [4]byte{10, 233, 233, 1}
	dst := [4]byte{93, 184, 216, 34}
	seg := buildTCP(51000, 443, 1, 1, flagACK|flagPSH, 65535, src, dst, []byte("GET /"))

	parsed, err := parseTCP(seg)
	require.NoError(t, err)
	require.Equal(t, uint16(51000), parsed.srcPort)
	require.Equal(t, uint16(443), parsed.dstPort)
	require.Equal(t, flagACK|flagPSH, parsed.flags)
	require.Equal(t, []byte("GET /"), parsed.data)
}

func TestParseTCPRejectsShortSegment(t *testing.T) {
	_, err := parseTCP([]byte{0, 1, 2})
	require.Error(t, err)
}

func TestTCPFlowWriteChunksLargePayloadsAndTracksSeq(t *testing.T) {
	dev := &Device{iface: &discardDevice{}, tcpFlows: make(map[flowKey]*tcpFlow)}
	key := flowKey{src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2}, srcPort: 443, dstPort: 51000}
	pr, pw := io.Pipe()
	flow := &tcpFlow{key: key, dev: dev, pr: pr, pw: pw, seq: 1, ack: 1}
	dev.tcpFlows[key] = flow

	payload := make([]byte, 3000)
	n, err := flow.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, uint32(1+3000), flow.seq)
}

func TestTCPFlowCloseRemovesItselfFromDevice(t *testing.T) {
	dev := &Device{iface: &discardDevice{}, tcpFlows: make(map[flowKey]*tcpFlow)}
	key := flowKey{src: [4]byte{10, 0, 0, 1}, dst: [4]byte{10, 0, 0, 2}, srcPort: 443, dstPort: 51000}
	pr, pw := io.Pipe()
	flow := &tcpFlow{key: key, dev: dev, pr: pr, pw: pw, seq: 1, ack: 1}
	dev.tcpFlows[key] = flow

	go io.ReadAll(pr)
	require.NoError(t, flow.Close())
	_, open := dev.tcpFlows[key]
	require.False(t, open)

	_, err := flow.Write([]byte("x"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}
