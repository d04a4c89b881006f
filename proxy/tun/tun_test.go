package tun

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

// discardDevice is a tunDevice fake that swallows every write, so unit
// tests can exercise Device's packet-handling logic without a real TUN
// interface.
type discardDevice struct {
	mu      sync.Mutex
	written [][]byte
}

func (d *discardDevice) Read([]byte) (int, error) { return 0, net.ErrClosed }

func (d *discardDevice) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]byte(nil), b...)
	d.written = append(d.written, cp)
	return len(b), nil
}

func (d *discardDevice) Close() error { return nil }

// stubAcceptor records the sessions/streams handed to it by Device.
type stubAcceptor struct {
	mu      sync.Mutex
	streams []transport.StreamConn
	packets int
}

func (a *stubAcceptor) AcceptStream(sess *session.Session, conn transport.StreamConn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams = append(a.streams, conn)
}

func (a *stubAcceptor) AcceptPacket(sess *session.Session, payload []byte, conn net.PacketConn, clientAddr net.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.packets++
}

var _ inbound.Acceptor = (*stubAcceptor)(nil)

func TestDeviceHandleTCPSendsSynAckAndOpensFlow(t *testing.T) {
	dev := &Device{tag: "tun-in", iface: &discardDevice{}, tcpFlows: make(map[flowKey]*tcpFlow)}
	acc := &stubAcceptor{}

	src := [4]byte{10, 233, 233, 2}
	dst := [4]byte{93, 184, 216, 34}
	seg := buildTCP(51000, 443, 1000, 0, flagSYN, 65535, src, dst, nil)
	pkt := buildIPv4(protoTCP, src, dst, seg)

	dev.handlePacket(context.Background(), pkt, acc)

	dev.mu.Lock()
	require.Len(t, dev.tcpFlows, 1)
	dev.mu.Unlock()

	// openFlow hands the flow to AcceptStream on its own goroutine.
	require.Eventually(t, func() bool {
		acc.mu.Lock()
		defer acc.mu.Unlock()
		return len(acc.streams) == 1
	}, time.Second, time.Millisecond)

	written := dev.iface.(*discardDevice)
	written.mu.Lock()
	defer written.mu.Unlock()
	require.Len(t, written.written, 1)
	hdr, body, err := parseIPv4(written.written[0])
	require.NoError(t, err)
	require.Equal(t, dst, hdr.src) // reply comes "from" the original destination
	require.Equal(t, src, hdr.dst)
	replySeg, err := parseTCP(body)
	require.NoError(t, err)
	require.Equal(t, flagSYN|flagACK, replySeg.flags)
}

func TestDeviceHandleTCPDataDeliversThroughFlowPipe(t *testing.T) {
	dev := &Device{tag: "tun-in", iface: &discardDevice{}, tcpFlows: make(map[flowKey]*tcpFlow)}
	acc := &stubAcceptor{}

	src := [4]byte{10, 233, 233, 2}
	dst := [4]byte{93, 184, 216, 34}
	synSeg := buildTCP(51000, 443, 1000, 0, flagSYN, 65535, src, dst, nil)
	dev.handlePacket(context.Background(), buildIPv4(protoTCP, src, dst, synSeg), acc)

	var flow transport.StreamConn
	require.Eventually(t, func() bool {
		acc.mu.Lock()
		defer acc.mu.Unlock()
		if len(acc.streams) == 0 {
			return false
		}
		flow = acc.streams[0]
		return true
	}, time.Second, time.Millisecond)

	dataSeg := buildTCP(51000, 443, 1001, 1, flagACK|flagPSH, 65535, src, dst, []byte("hello"))
	// handlePacket writes the segment's payload into the flow's pipe,
	// which blocks until a reader drains it (the same backpressure an
	// outbound relay's io.Copy would apply), so it must run
	// concurrently with the Read below rather than before it.
	go dev.handlePacket(context.Background(), buildIPv4(protoTCP, src, dst, dataSeg), acc)

	buf := make([]byte, 5)
	n, err := flow.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf[:n])
}

func TestDeviceHandleUDPDeliversPacketAndReplyRoundTrips(t *testing.T) {
	dev := &Device{tag: "tun-in", iface: &discardDevice{}, tcpFlows: make(map[flowKey]*tcpFlow)}
	acc := &stubAcceptor{}

	src := [4]byte{10, 233, 233, 2}
	dst := [4]byte{8, 8, 8, 8}
	seg := buildUDP(40000, 53, src, dst, []byte("query"))
	dev.handlePacket(context.Background(), buildIPv4(protoUDP, src, dst, seg), acc)

	acc.mu.Lock()
	require.Equal(t, 1, acc.packets)
	acc.mu.Unlock()

	key := flowKey{src: dst, dst: src, srcPort: 53, dstPort: 40000}
	conn := &udpTunConn{dev: dev, key: key}
	n, err := conn.WriteTo([]byte("reply"), nil)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	fake := dev.iface.(*discardDevice)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.written, 1)
	hdr, body, err := parseIPv4(fake.written[0])
	require.NoError(t, err)
	require.Equal(t, dst, hdr.src)
	require.Equal(t, src, hdr.dst)
	dgram, err := parseUDP(body)
	require.NoError(t, err)
	require.True(t, bytes.Equal(dgram.data, []byte("reply")))
}
