// Package shadowsocks implements the gateway's Shadowsocks inbound
// listener and outbound dialer, wrapping transport/shadowsocks's
// cipher/stream/packet code for both directions (the teacher's own
// transport/shadowsocks/client subpackage only covers the dial side).
//
// The address codec is a third, independently-written copy of the
// SOCKS5-style address encoding, following proxy/socks and
// proxy/trojan's own precedent of keeping each protocol package
// self-contained rather than sharing an exported helper.
package shadowsocks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
)

const (
	addrTypeIPv4       = 0x01
	addrTypeDomainName = 0x03
	addrTypeIPv6       = 0x04
)

func encodeAddr(dest string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(dest)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}

	var b []byte
	ip := net.ParseIP(host)
	if ip4 := ip.To4(); ip4 != nil {
		b = append(b, addrTypeIPv4)
		b = append(b, ip4...)
	} else if ip != nil {
		b = append(b, addrTypeIPv6)
		b = append(b, ip.To16()...)
	} else {
		b = append(b, addrTypeDomainName, byte(len(host)))
		b = append(b, host...)
	}
	return binary.BigEndian.AppendUint16(b, uint16(port)), nil
}

// readAddr parses a SOCKS5-style address field off r.
func readAddr(r io.Reader) (string, error) {
	var atypBuf [1]byte
	if _, err := io.ReadFull(r, atypBuf[:]); err != nil {
		return "", err
	}
	switch atypBuf[0] {
	case addrTypeIPv4:
		buf := make([]byte, net.IPv4len+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		port := binary.BigEndian.Uint16(buf[net.IPv4len:])
		return net.JoinHostPort(net.IP(buf[:net.IPv4len]).String(), strconv.Itoa(int(port))), nil
	case addrTypeIPv6:
		buf := make([]byte, net.IPv6len+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		port := binary.BigEndian.Uint16(buf[net.IPv6len:])
		return net.JoinHostPort(net.IP(buf[:net.IPv6len]).String(), strconv.Itoa(int(port))), nil
	case addrTypeDomainName:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return "", err
		}
		buf := make([]byte, int(l[0])+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		host := string(buf[:l[0]])
		port := binary.BigEndian.Uint16(buf[l[0]:])
		return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
	default:
		return "", errors.New("shadowsocks: unrecognized address type")
	}
}

// parseAddrFromBytes parses the leading SOCKS5-style address out of a
// decrypted UDP payload and returns the dest string plus the remaining
// application payload.
func parseAddrFromBytes(b []byte) (dest string, payload []byte, err error) {
	r := bytes.NewReader(b)
	dest, err = readAddr(r)
	if err != nil {
		return "", nil, err
	}
	return dest, b[len(b)-r.Len():], nil
}
