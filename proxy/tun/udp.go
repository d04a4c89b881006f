package tun

import (
	"encoding/binary"
	"errors"
)

type udpDatagram struct {
	srcPort uint16
	dstPort uint16
	data    []byte
}

func parseUDP(seg []byte) (udpDatagram, error) {
	if len(seg) < 8 {
		return udpDatagram{}, errors.New("tun: short UDP segment")
	}
	length := int(binary.BigEndian.Uint16(seg[4:6]))
	if length < 8 || length > len(seg) {
		length = len(seg)
	}
	return udpDatagram{
		srcPort: binary.BigEndian.Uint16(seg[0:2]),
		dstPort: binary.BigEndian.Uint16(seg[2:4]),
		data:    seg[8:length],
	}, nil
}

// buildUDP returns a UDP segment (header+payload) with its checksum
// computed over the IPv4 pseudo-header, ready to be wrapped in
// buildIPv4.
func buildUDP(srcPort, dstPort uint16, src, dst [4]byte, data []byte) []byte {
	seg := make([]byte, 8+len(data))
	binary.BigEndian.PutUint16(seg[0:2], srcPort)
	binary.BigEndian.PutUint16(seg[2:4], dstPort)
	binary.BigEndian.PutUint16(seg[4:6], uint16(len(seg)))
	copy(seg[8:], data)

	sum := pseudoHeaderSum(src, dst, protoUDP, len(seg))
	cksum := checksum(seg, sum)
	if cksum == 0 {
		cksum = 0xffff
	}
	binary.BigEndian.PutUint16(seg[6:8], cksum)
	return seg
}
