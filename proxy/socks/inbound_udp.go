package socks

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
)

const maxUDPPacketSize = 64 * 1024

// serveUDPRelay reads SOCKS5 UDP-associate datagrams off the shared relay
// socket, strips the RSV/FRAG/ATYP/DST header (RFC1928 §7), and hands each
// payload to acc as its own datagram session. Fragmented datagrams
// (FRAG != 0) are dropped; reassembly is not implemented since no
// SOCKS5 client in practice relies on it.
func serveUDPRelay(ctx context.Context, relay net.PacketConn, inboundTag string, acc inbound.Acceptor) {
	buf := make([]byte, maxUDPPacketSize)
	for {
		n, from, err := relay.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		dest, payload, ok := parseUDPHeader(buf[:n])
		if !ok {
			continue
		}
		sess := session.NewDatagram(ctx, inboundTag, dest, from)
		conn := &udpRelayConn{relay: relay, client: from}
		acc.AcceptPacket(sess, payload, conn, from)
	}
}

// parseUDPHeader strips the SOCKS5 UDP request header and returns the
// destination "host:port" plus the remaining payload.
func parseUDPHeader(b []byte) (dest string, payload []byte, ok bool) {
	if len(b) < 4 || b[2] != 0 {
		return "", nil, false
	}
	atyp := b[3]
	r := bytes.NewReader(b[4:])
	addr, err := readAddr(r, atyp)
	if err != nil {
		return "", nil, false
	}
	consumed := len(b[4:]) - r.Len()
	return addr, b[4+consumed:], true
}

// udpRelayConn is the net.PacketConn handed to the dispatcher for one
// SOCKS5 UDP-associated client flow. WriteTo re-frames the reply with a
// SOCKS5 UDP header whose DST.ADDR/DST.PORT is addr (the upstream reply's
// real source, per dispatcher's AcceptPacket contract) before writing it
// to the real client socket.
type udpRelayConn struct {
	relay  net.PacketConn
	client net.Addr
}

var _ net.PacketConn = (*udpRelayConn)(nil)

func (c *udpRelayConn) WriteTo(payload []byte, addr net.Addr) (int, error) {
	host, port, ok := splitUDPAddr(addr)
	if !ok {
		return 0, net.InvalidAddrError("bad upstream address")
	}
	header := []byte{0, 0, 0}
	ip := net.ParseIP(host)
	if ip4 := ip.To4(); ip4 != nil {
		header = append(header, addrTypeIPv4)
		header = append(header, ip4...)
	} else if ip != nil {
		header = append(header, addrTypeIPv6)
		header = append(header, ip.To16()...)
	} else {
		header = append(header, addrTypeDomainName, byte(len(host)))
		header = append(header, host...)
	}
	header = binary.BigEndian.AppendUint16(header, port)
	return c.relay.WriteTo(append(header, payload...), c.client)
}

// ReadFrom is unused: serveUDPRelay owns the shared socket and delivers
// each datagram to the dispatcher directly via AcceptPacket.
func (c *udpRelayConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return 0, nil, net.ErrClosed
}

func (c *udpRelayConn) Close() error                       { return nil }
func (c *udpRelayConn) LocalAddr() net.Addr                 { return c.relay.LocalAddr() }
func (c *udpRelayConn) SetDeadline(time.Time) error         { return nil }
func (c *udpRelayConn) SetReadDeadline(time.Time) error     { return nil }
func (c *udpRelayConn) SetWriteDeadline(time.Time) error    { return nil }

func splitUDPAddr(addr net.Addr) (host string, port uint16, ok bool) {
	h, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, false
	}
	var portNum int
	for _, c := range p {
		if c < '0' || c > '9' {
			return "", 0, false
		}
		portNum = portNum*10 + int(c-'0')
	}
	return h, uint16(portNum), true
}
