package trojan

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
)

// udpConn adapts a single trojan TLS stream, already past the UDP
// command preamble, into a net.Conn whose Write/Read frame each
// datagram per spec.md §6: addr(SOCKS5) length(2 BE) CRLF payload.
// Used by the outbound dialer, where the stream is bound to one peer.
type udpConn struct {
	stream net.Conn
	r      *bufio.Reader
	dest   string
}

var _ net.Conn = (*udpConn)(nil)

func newUDPConn(stream net.Conn, dest string) *udpConn {
	return &udpConn{stream: stream, r: bufio.NewReader(stream), dest: dest}
}

func (c *udpConn) Write(b []byte) (int, error) {
	if err := writeUDPRecord(c.stream, c.dest, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *udpConn) Read(b []byte) (int, error) {
	_, payload, err := readUDPRecord(c.r)
	if err != nil {
		return 0, err
	}
	return copy(b, payload), nil
}

func (c *udpConn) Close() error                       { return c.stream.Close() }
func (c *udpConn) LocalAddr() net.Addr                { return c.stream.LocalAddr() }
func (c *udpConn) RemoteAddr() net.Addr                { return c.stream.RemoteAddr() }
func (c *udpConn) SetDeadline(t time.Time) error       { return c.stream.SetDeadline(t) }
func (c *udpConn) SetReadDeadline(t time.Time) error    { return c.stream.SetReadDeadline(t) }
func (c *udpConn) SetWriteDeadline(t time.Time) error   { return c.stream.SetWriteDeadline(t) }

// writeUDPRecord frames payload as one spec.md §6 UDP record and writes
// it to w.
func writeUDPRecord(w io.Writer, dest string, payload []byte) error {
	host, portStr, err := net.SplitHostPort(dest)
	if err != nil {
		return err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return err
	}

	buf := encodeAddr(host, uint16(port))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, crlf...)
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return err
}

// readUDPRecord parses one spec.md §6 UDP record off r.
func readUDPRecord(r *bufio.Reader) (dest string, payload []byte, err error) {
	atyp, err := r.ReadByte()
	if err != nil {
		return "", nil, err
	}
	addr, err := readAddr(r, atyp)
	if err != nil {
		return "", nil, err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])

	var crlfBuf [2]byte
	if _, err := io.ReadFull(r, crlfBuf[:]); err != nil {
		return "", nil, err
	}

	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return addr, payload, nil
}

// serveUDPOverStream reads spec.md §6 UDP records off r (the same
// buffered reader the header was parsed from, so no bytes already
// buffered past the header are lost), delivering each to acc as its own
// datagram session. Every datagram shares one relayConn, since replies
// for every flow on this association go back over the same TLS stream
// to the same client.
func serveUDPOverStream(ctx context.Context, r *bufio.Reader, conn net.Conn, inboundTag string, acc inbound.Acceptor) {
	relay := &relayConn{stream: conn}
	for {
		dest, payload, err := readUDPRecord(r)
		if err != nil {
			return
		}
		sess := session.NewDatagram(ctx, inboundTag, dest, conn.RemoteAddr())
		acc.AcceptPacket(sess, payload, relay, conn.RemoteAddr())
	}
}

// relayConn is the net.PacketConn handed to the dispatcher for trojan's
// UDP command: every reply is re-framed as a spec.md §6 UDP record and
// written back over the same TLS stream, serialized by mu since the
// dispatcher may deliver replies for several concurrent flows.
type relayConn struct {
	stream net.Conn
	mu     sync.Mutex
}

var _ net.PacketConn = (*relayConn)(nil)

func (c *relayConn) WriteTo(payload []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeUDPRecord(c.stream, addr.String(), payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// ReadFrom is unused: serveUDPOverStream owns the shared stream and
// delivers each datagram to the dispatcher directly via AcceptPacket.
func (c *relayConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return 0, nil, net.ErrClosed
}

func (c *relayConn) Close() error                     { return nil }
func (c *relayConn) LocalAddr() net.Addr               { return c.stream.LocalAddr() }
func (c *relayConn) SetDeadline(time.Time) error       { return nil }
func (c *relayConn) SetReadDeadline(time.Time) error   { return nil }
func (c *relayConn) SetWriteDeadline(time.Time) error  { return nil }
