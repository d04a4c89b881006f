package tun

import (
	"encoding/binary"
	"errors"
)

// Protocol numbers this package understands; everything else is
// dropped rather than forwarded, since neither the router nor the
// dispatcher has anything to do with it.
const (
	protoTCP = 6
	protoUDP = 17
)

// ipv4Header is the subset of RFC 791's header this package needs to
// read or rewrite; options are preserved verbatim but never
// interpreted.
type ipv4Header struct {
	headerLen int
	totalLen  int
	protocol  byte
	src       [4]byte
	dst       [4]byte
}

func parseIPv4(pkt []byte) (ipv4Header, []byte, error) {
	if len(pkt) < 20 {
		return ipv4Header{}, nil, errors.New("tun: short IPv4 packet")
	}
	if pkt[0]>>4 != 4 {
		return ipv4Header{}, nil, errors.New("tun: not an IPv4 packet")
	}
	ihl := int(pkt[0]&0x0f) * 4
	if ihl < 20 || len(pkt) < ihl {
		return ipv4Header{}, nil, errors.New("tun: invalid IPv4 header length")
	}
	totalLen := int(binary.BigEndian.Uint16(pkt[2:4]))
	if totalLen < ihl || totalLen > len(pkt) {
		totalLen = len(pkt)
	}

	var h ipv4Header
	h.headerLen = ihl
	h.totalLen = totalLen
	h.protocol = pkt[9]
	copy(h.src[:], pkt[12:16])
	copy(h.dst[:], pkt[16:20])
	return h, pkt[ihl:totalLen], nil
}

// buildIPv4 writes a minimal 20-byte-header IPv4 packet (no options)
// carrying payload, from src to dst, and returns the full packet with
// a correct header checksum.
func buildIPv4(protocol byte, src, dst [4]byte, payload []byte) []byte {
	pkt := make([]byte, 20+len(payload))
	pkt[0] = 0x45 // version 4, IHL 5
	pkt[1] = 0    // DSCP/ECN
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	binary.BigEndian.PutUint16(pkt[4:6], 0) // identification
	binary.BigEndian.PutUint16(pkt[6:8], 0) // flags/fragment offset
	pkt[8] = 64                             // TTL
	pkt[9] = protocol
	copy(pkt[12:16], src[:])
	copy(pkt[16:20], dst[:])
	binary.BigEndian.PutUint16(pkt[10:12], checksum(pkt[:20], 0))
	copy(pkt[20:], payload)
	return pkt
}
