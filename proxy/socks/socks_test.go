package socks

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeNoAuthAcceptsNoAuthMethod(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- handshakeNoAuth(server) }()

	_, err := client.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)

	reply := make([]byte, 2)
	_, err = client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, reply)
	require.NoError(t, <-done)
}

func TestHandshakeNoAuthRejectsBadVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- handshakeNoAuth(server) }()

	_, err := client.Write([]byte{0x04, 0x01, 0x00})
	require.NoError(t, err)
	require.Error(t, <-done)
}

func TestReadRequestParsesConnectWithIPv4(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	type result struct {
		cmd  byte
		dest string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cmd, dest, err := readRequest(server)
		done <- result{cmd, dest, err}
	}()

	req := []byte{0x05, cmdConnect, 0x00, addrTypeIPv4, 93, 184, 216, 34}
	req = binary.BigEndian.AppendUint16(req, 80)
	_, err := client.Write(req)
	require.NoError(t, err)

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, byte(cmdConnect), r.cmd)
	require.Equal(t, "93.184.216.34:80", r.dest)
}

func TestReadRequestParsesUDPAssociateWithDomainName(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	type result struct {
		cmd  byte
		dest string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cmd, dest, err := readRequest(server)
		done <- result{cmd, dest, err}
	}()

	host := "example.com"
	req := []byte{0x05, cmdUDPAssociate, 0x00, addrTypeDomainName, byte(len(host))}
	req = append(req, host...)
	req = binary.BigEndian.AppendUint16(req, 53)
	_, err := client.Write(req)
	require.NoError(t, err)

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, byte(cmdUDPAssociate), r.cmd)
	require.Equal(t, "example.com:53", r.dest)
}

func TestWriteReplyEncodesIPv4BoundAddress(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- writeReply(server, 0x00, "127.0.0.1:1080") }()

	reply := make([]byte, 10)
	_, err := client.Read(reply)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Equal(t, byte(0x05), reply[0])
	require.Equal(t, byte(0x00), reply[1])
	require.Equal(t, byte(addrTypeIPv4), reply[3])
	require.Equal(t, net.IPv4(127, 0, 0, 1).To4(), net.IP(reply[4:8]))
	require.Equal(t, uint16(1080), binary.BigEndian.Uint16(reply[8:10]))
}

func TestParseUDPHeaderStripsHeaderAndReturnsPayload(t *testing.T) {
	b := []byte{0x00, 0x00, 0x00, addrTypeIPv4, 8, 8, 8, 8}
	b = binary.BigEndian.AppendUint16(b, 53)
	b = append(b, "payload"...)

	dest, payload, ok := parseUDPHeader(b)
	require.True(t, ok)
	require.Equal(t, "8.8.8.8:53", dest)
	require.Equal(t, "payload", string(payload))
}

func TestParseUDPHeaderRejectsFragmentedDatagrams(t *testing.T) {
	b := []byte{0x00, 0x00, 0x01, addrTypeIPv4, 8, 8, 8, 8, 0, 53}
	_, _, ok := parseUDPHeader(b)
	require.False(t, ok)
}

func TestSplitUDPAddrParsesHostAndPort(t *testing.T) {
	host, port, ok := splitUDPAddr(&net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 9000})
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", host)
	require.Equal(t, uint16(9000), port)
}

func TestUDPRelayConnWriteToFramesSOCKS5Header(t *testing.T) {
	relay, other := net.Pipe()
	defer relay.Close()
	defer other.Close()

	relayPC := &pipePacketConn{Conn: relay}
	conn := &udpRelayConn{relay: relayPC, client: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}}

	done := make(chan error, 1)
	go func() {
		_, err := conn.WriteTo([]byte("reply"), &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53})
		done <- err
	}()

	buf := make([]byte, 64)
	n, err := other.Read(buf)
	require.NoError(t, err)
	require.NoError(t, <-done)

	framed := buf[:n]
	require.Equal(t, []byte{0, 0, 0, addrTypeIPv4}, framed[:4])
	require.Equal(t, net.IPv4(8, 8, 8, 8).To4(), net.IP(framed[4:8]))
	require.Equal(t, uint16(53), binary.BigEndian.Uint16(framed[8:10]))
	require.Equal(t, "reply", string(framed[10:]))
}

// pipePacketConn adapts a net.Conn (one end of a net.Pipe) into the
// net.PacketConn surface udpRelayConn needs, so WriteTo can be exercised
// without a real UDP socket.
type pipePacketConn struct {
	net.Conn
}

func (p *pipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) { return p.Conn.Write(b) }
func (p *pipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := p.Conn.Read(b)
	return n, nil, err
}
