// Package artnet builds and transmits Art-Net DMX packets.
package artnet

import (
	"encoding/binary"
)

const (
	// OpCodeDMX is the Art-Net operation code for DMX data.
	OpCodeDMX uint16 = 0x5000
	// ProtocolVersion is the Art-Net protocol version.
	ProtocolVersion uint16 = 14
	// DMXDataLength is the number of DMX channels per universe.
	DMXDataLength uint16 = 512
	// PacketSize is the total size of an Art-Net DMX packet (18-byte header + 512 data bytes).
	PacketSize = 18 + int(DMXDataLength)
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454
)

// ArtNetID is the literal Art-Net packet identifier.
var ArtNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// BuildDMXPacket builds an Art-Net OpDmx datagram for the given universe.
//
// universe is the raw Art-Net universe byte (subnet<<4 | universe, 0..255);
// callers that need a single subnet should pack it before calling this, since
// the wire format only carries one byte's worth of meaningful addressing here
// (the high byte of the little-endian universe word is always zero).
// channels must be exactly 512 bytes; shorter slices are zero-padded, longer
// slices are truncated to 512.
func BuildDMXPacket(universe byte, channels []byte, sequence byte) []byte {
	packet := make([]byte, PacketSize)

	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodeDMX)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = sequence
	packet[13] = 0 // physical input port, unused
	binary.LittleEndian.PutUint16(packet[14:16], uint16(universe))
	binary.BigEndian.PutUint16(packet[16:18], DMXDataLength)

	if len(channels) >= 512 {
		copy(packet[18:530], channels[:512])
	} else {
		copy(packet[18:18+len(channels)], channels)
	}

	return packet
}

// DecodeDMXPacket parses an Art-Net OpDmx datagram, returning the universe
// byte and a 512-byte copy of the DMX data. It is used by the read-only
// receiver (T-net-rx) and by round-trip tests; it never mutates raw.
func DecodeDMXPacket(raw []byte) (universe byte, data []byte, ok bool) {
	if len(raw) < PacketSize {
		return 0, nil, false
	}
	for i, b := range ArtNetID {
		if raw[i] != b {
			return 0, nil, false
		}
	}
	if binary.LittleEndian.Uint16(raw[8:10]) != OpCodeDMX {
		return 0, nil, false
	}
	universeWord := binary.LittleEndian.Uint16(raw[14:16])
	data = make([]byte, 512)
	copy(data, raw[18:530])
	return byte(universeWord), data, true
}
