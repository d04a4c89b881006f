package socks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
)

func init() {
	inbound.Register("socks", newInboundHandler)
}

// SOCKS5 address types, mirroring transport/socks5/socks5.go's unexported
// addrType* constants (RFC1928 §5); redefined here since the inbound
// server side has no client-dialer code to share them with.
const (
	addrTypeIPv4       = 0x01
	addrTypeDomainName = 0x03
	addrTypeIPv6       = 0x04
)

const (
	cmdConnect      = 0x01
	cmdUDPAssociate = 0x03
)

type inboundHandler struct {
	tag    string
	listen string
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("socks inbound %q: missing \"listen\"", tag)
	}
	return &inboundHandler{tag: tag, listen: listen}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "socks" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	relay, err := net.ListenPacket("udp", h.listen)
	if err != nil {
		return fmt.Errorf("socks inbound %q: udp listen: %w", h.tag, err)
	}
	defer relay.Close()
	go serveUDPRelay(ctx, relay, h.tag, acc)

	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("socks inbound %q: tcp listen: %w", h.tag, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("socks inbound %q: accept: %w", h.tag, err)
		}
		go h.serveConn(ctx, conn, relay.LocalAddr(), acc)
	}
}

func (h *inboundHandler) serveConn(ctx context.Context, conn net.Conn, udpRelayAddr net.Addr, acc inbound.Acceptor) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return
	}

	if err := handshakeNoAuth(tcpConn); err != nil {
		tcpConn.Close()
		return
	}

	cmd, dest, err := readRequest(tcpConn)
	if err != nil {
		tcpConn.Close()
		return
	}

	switch cmd {
	case cmdConnect:
		if err := writeReply(tcpConn, 0x00, "0.0.0.0:0"); err != nil {
			tcpConn.Close()
			return
		}
		sess := session.New(ctx, h.tag, dest, tcpConn.RemoteAddr())
		acc.AcceptStream(sess, tcpConn)
	case cmdUDPAssociate:
		if err := writeReply(tcpConn, 0x00, udpRelayAddr.String()); err != nil {
			tcpConn.Close()
			return
		}
		// The association lives as long as this control connection stays
		// open; hold it open and let the UDP relay loop do the work.
		buf := make([]byte, 1)
		tcpConn.Read(buf) //nolint:errcheck // blocks until the client closes the control connection
		tcpConn.Close()
	default:
		writeReply(tcpConn, 0x07, "0.0.0.0:0")
		tcpConn.Close()
	}
}

func handshakeNoAuth(conn net.Conn) error {
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != 0x05 {
		return fmt.Errorf("unsupported SOCKS version %d", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}
	_, err := conn.Write([]byte{0x05, 0x00})
	return err
}

func readRequest(conn net.Conn) (cmd byte, dest string, err error) {
	var hdr [4]byte
	if _, err = io.ReadFull(conn, hdr[:]); err != nil {
		return
	}
	if hdr[0] != 0x05 {
		err = fmt.Errorf("unsupported SOCKS version %d", hdr[0])
		return
	}
	cmd = hdr[1]
	addr, err := readAddr(conn, hdr[3])
	if err != nil {
		return
	}
	dest = addr
	return
}

func readAddr(conn io.Reader, atyp byte) (string, error) {
	switch atyp {
	case addrTypeIPv4:
		buf := make([]byte, net.IPv4len+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		port := binary.BigEndian.Uint16(buf[net.IPv4len:])
		return net.JoinHostPort(net.IP(buf[:net.IPv4len]).String(), strconv.Itoa(int(port))), nil
	case addrTypeIPv6:
		buf := make([]byte, net.IPv6len+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		port := binary.BigEndian.Uint16(buf[net.IPv6len:])
		return net.JoinHostPort(net.IP(buf[:net.IPv6len]).String(), strconv.Itoa(int(port))), nil
	case addrTypeDomainName:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return "", err
		}
		buf := make([]byte, int(l[0])+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		host := string(buf[:l[0]])
		port := binary.BigEndian.Uint16(buf[l[0]:])
		return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
	default:
		return "", errors.New("unrecognized address type")
	}
}

func writeReply(conn net.Conn, rep byte, boundAddr string) error {
	host, portStr, err := net.SplitHostPort(boundAddr)
	if err != nil {
		return err
	}
	portNum, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return err
	}
	b := []byte{0x05, rep, 0x00}
	ip := net.ParseIP(host)
	if ip4 := ip.To4(); ip4 != nil {
		b = append(b, addrTypeIPv4)
		b = append(b, ip4...)
	} else if ip != nil {
		b = append(b, addrTypeIPv6)
		b = append(b, ip.To16()...)
	} else {
		b = append(b, addrTypeIPv4, 0, 0, 0, 0)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(portNum))
	_, err = conn.Write(b)
	return err
}
