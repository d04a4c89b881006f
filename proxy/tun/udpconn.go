package tun

import (
	"net"
	"time"
)

// udpTunConn is the net.PacketConn an outbound handler writes UDP
// replies to for one TUN 5-tuple; it re-encapsulates each reply as a
// UDP-in-IPv4 packet addressed back to the original sender and writes
// it out through the virtual interface. Modeled on proxy/socks's
// udpRelayConn: ReadFrom is never used by a dispatcher that already
// delivered the first datagram through AcceptPacket, so it returns
// net.ErrClosed immediately.
type udpTunConn struct {
	dev *Device
	key flowKey
}

var _ net.PacketConn = (*udpTunConn)(nil)

func (c *udpTunConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.dev.sendUDP(c.key, b)
	return len(b), nil
}

func (c *udpTunConn) ReadFrom([]byte) (int, net.Addr, error) {
	return 0, nil, net.ErrClosed
}

func (c *udpTunConn) Close() error { return nil }

func (c *udpTunConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IP(c.key.src[:]), Port: int(c.key.srcPort)}
}

func (c *udpTunConn) SetDeadline(time.Time) error      { return nil }
func (c *udpTunConn) SetReadDeadline(time.Time) error  { return nil }
func (c *udpTunConn) SetWriteDeadline(time.Time) error { return nil }
