// SPDX-License-Identifier: GPL-2.0-or-later

// Package envelope encodes the messages exchanged between camera nodes and
// the recorder. One envelope per transport message.
package envelope

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EvanMerlock/sports-record/pkg/media"
)

// Tag identifies the envelope variant.
type Tag uint8

// Envelope tags.
const (
	TagHandshake   Tag = 1
	TagPackets     Tag = 2
	TagEndOfStream Tag = 3
)

func (t Tag) String() string {
	switch t {
	case TagHandshake:
		return "handshake"
	case TagPackets:
		return "packets"
	case TagEndOfStream:
		return "end of stream"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Envelope is one of Handshake, Packets or EndOfStream.
type Envelope interface {
	Tag() Tag
}

// Handshake must be the first envelope on a connection.
type Handshake struct {
	StreamConfiguration media.StreamConfiguration `json:"stream_configuration"`

	// Address of the node's preview feed, optional.
	PreviewAddress string `json:"preview_address,omitempty"`
}

// Packets batch of encoded packets in StreamConfiguration.TimeBase.
type Packets []media.Packet

// EndOfStream ends the current segment, the connection may continue.
type EndOfStream struct{}

// Tag implements Envelope.
func (Handshake) Tag() Tag { return TagHandshake }

// Tag implements Envelope.
func (Packets) Tag() Tag { return TagPackets }

// Tag implements Envelope.
func (EndOfStream) Tag() Tag { return TagEndOfStream }

// Decode errors.
var (
	ErrMalformed  = errors.New("malformed envelope")
	ErrUnknownTag = errors.New("unknown envelope tag")
)

const (
	packetCountSize  = 4
	packetHeaderSize = 8 + 8 + 1 + 4

	flagKey = uint8(0x1)
)

// Encode envelope.
func Encode(e Envelope) ([]byte, error) {
	switch v := e.(type) {
	case Handshake:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal handshake: %w", err)
		}
		return append([]byte{uint8(TagHandshake)}, body...), nil
	case *Handshake:
		return Encode(*v)
	case Packets:
		return encodePackets(v), nil
	case EndOfStream, *EndOfStream:
		return []byte{uint8(TagEndOfStream)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, e)
	}
}

func encodePackets(packets Packets) []byte {
	size := 1 + packetCountSize
	for _, p := range packets {
		size += packetHeaderSize + len(p.Payload)
	}

	out := make([]byte, size)
	out[0] = uint8(TagPackets)
	pos := 1

	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(len(packets)))
	pos += 4

	for _, p := range packets {
		binary.BigEndian.PutUint64(out[pos:pos+8], uint64(p.PTS))
		pos += 8
		binary.BigEndian.PutUint64(out[pos:pos+8], uint64(p.DTS))
		pos += 8

		var flags uint8
		if p.Key {
			flags |= flagKey
		}
		out[pos] = flags
		pos++

		binary.BigEndian.PutUint32(out[pos:pos+4], uint32(len(p.Payload)))
		pos += 4

		copy(out[pos:], p.Payload)
		pos += len(p.Payload)
	}
	return out
}

// Decode envelope. Errors wrap ErrMalformed or ErrUnknownTag.
func Decode(buf []byte) (Envelope, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	body := buf[1:]
	switch Tag(buf[0]) {
	case TagHandshake:
		var h Handshake
		if err := json.Unmarshal(body, &h); err != nil {
			return nil, fmt.Errorf("%w: handshake: %v", ErrMalformed, err)
		}
		return h, nil

	case TagPackets:
		return decodePackets(body)

	case TagEndOfStream:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: end of stream with %d byte body", ErrMalformed, len(body))
		}
		return EndOfStream{}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, buf[0])
	}
}

func decodePackets(body []byte) (Packets, error) {
	if len(body) < packetCountSize {
		return nil, fmt.Errorf("%w: packets: missing count", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint32(body))
	pos := packetCountSize

	// Every packet needs at least its header.
	if count > (len(body)-pos)/packetHeaderSize {
		return nil, fmt.Errorf("%w: packets: count %d exceeds message size", ErrMalformed, count)
	}

	packets := make(Packets, count)
	for i := range packets {
		if len(body)-pos < packetHeaderSize {
			return nil, fmt.Errorf("%w: packets: truncated header %d", ErrMalformed, i)
		}
		p := &packets[i]
		p.PTS = int64(binary.BigEndian.Uint64(body[pos : pos+8]))
		pos += 8
		p.DTS = int64(binary.BigEndian.Uint64(body[pos : pos+8]))
		pos += 8
		p.Key = body[pos]&flagKey != 0
		pos++

		size := int(binary.BigEndian.Uint32(body[pos : pos+4]))
		pos += 4
		if size > len(body)-pos {
			return nil, fmt.Errorf("%w: packets: truncated payload %d", ErrMalformed, i)
		}

		p.Payload = make([]byte, size)
		copy(p.Payload, body[pos:pos+size])
		pos += size
	}

	if pos != len(body) {
		return nil, fmt.Errorf("%w: packets: %d trailing bytes", ErrMalformed, len(body)-pos)
	}
	return packets, nil
}
