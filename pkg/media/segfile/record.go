// SPDX-License-Identifier: GPL-2.0-or-later

package segfile

import (
	"encoding/binary"

	"github.com/EvanMerlock/sports-record/pkg/media"
)

// Kind record kind.
type Kind uint8

// Record kinds.
const (
	KindPacket  Kind = 1
	KindFlush   Kind = 2
	KindTrailer Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindFlush:
		return "flush"
	case KindTrailer:
		return "trailer"
	default:
		return "unknown"
	}
}

// Packet flags.
const (
	FlagIsKey = uint8(0x1)
)

const (
	packetHeaderSize = 21
	trailerSize      = 4
)

// Record .
type Record struct {
	Kind   Kind
	Packet media.Packet

	// Number of packets in the file, only set for the trailer.
	PacketCount uint32
}

func marshalPacket(p media.Packet) []byte {
	out := make([]byte, 1+packetHeaderSize+len(p.Payload))
	out[0] = uint8(KindPacket)

	var flags uint8
	if p.Key {
		flags |= FlagIsKey
	}
	out[1] = flags
	binary.BigEndian.PutUint64(out[2:10], uint64(p.PTS))
	binary.BigEndian.PutUint64(out[10:18], uint64(p.DTS))
	binary.BigEndian.PutUint32(out[18:22], uint32(len(p.Payload)))
	copy(out[22:], p.Payload)
	return out
}

func unmarshalPacketHeader(buf []byte) (media.Packet, uint32) {
	p := media.Packet{
		Key: buf[0]&FlagIsKey != 0,
		PTS: int64(binary.BigEndian.Uint64(buf[1:9])),
		DTS: int64(binary.BigEndian.Uint64(buf[9:17])),
	}
	size := binary.BigEndian.Uint32(buf[17:21])
	return p, size
}

func marshalTrailer(packetCount uint32) []byte {
	out := make([]byte, 1+trailerSize)
	out[0] = uint8(KindTrailer)
	binary.BigEndian.PutUint32(out[1:5], packetCount)
	return out
}
