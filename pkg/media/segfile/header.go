// SPDX-License-Identifier: GPL-2.0-or-later

package segfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/EvanMerlock/sports-record/pkg/media"
)

// Extension of segment files.
const Extension = "seg"

var magic = []byte("SRSG")

const headerFixedSize = 4 + 1 + 4 + 4 + 2 + 1 + 4 + 4

// Header segment file header.
type Header struct {
	Config media.StreamConfiguration
}

// Size marshaled size.
func (h Header) Size() int {
	return headerFixedSize + 2 + len(h.Config.PixelFormat) + 2 + len(h.Config.CodecID)
}

// Marshal header.
func (h Header) Marshal() []byte {
	out := make([]byte, h.Size())
	pos := 0

	copy(out, magic)
	pos += len(magic)

	const version = 0
	out[pos] = version
	pos++

	c := h.Config
	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(c.Width))
	pos += 4
	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(c.Height))
	pos += 4
	binary.BigEndian.PutUint16(out[pos:pos+2], uint16(c.GopSize))
	pos += 2
	out[pos] = uint8(c.MaxBFrames)
	pos++
	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(c.TimeBase.Num))
	pos += 4
	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(c.TimeBase.Den))
	pos += 4

	marshalArray(out, &pos, []byte(c.PixelFormat))
	marshalArray(out, &pos, []byte(c.CodecID))

	return out
}

func marshalArray(out []byte, pos *int, value []byte) {
	size := len(value)
	binary.BigEndian.PutUint16(out[*pos:*pos+2], uint16(size))
	*pos += 2

	copy(out[*pos:*pos+size], value)
	*pos += size
}

// Header errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
)

// Unmarshal header from reader.
func (h *Header) Unmarshal(r io.Reader) (int, error) {
	buf := make([]byte, headerFixedSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, err
	}
	read := n

	if !bytes.Equal(buf[:4], magic) {
		return 0, fmt.Errorf("%w: %x", ErrInvalidMagic, buf[:4])
	}
	if buf[4] != 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[4])
	}

	c := &h.Config
	c.Width = int(binary.BigEndian.Uint32(buf[5:9]))
	c.Height = int(binary.BigEndian.Uint32(buf[9:13]))
	c.GopSize = int(binary.BigEndian.Uint16(buf[13:15]))
	c.MaxBFrames = int(buf[15])
	c.TimeBase.Num = int(binary.BigEndian.Uint32(buf[16:20]))
	c.TimeBase.Den = int(binary.BigEndian.Uint32(buf[20:24]))

	var pixelFormat []byte
	n, err = unmarshalArray(r, &pixelFormat)
	if err != nil {
		return 0, err
	}
	read += n
	c.PixelFormat = media.PixelFormat(pixelFormat)

	var codec []byte
	n, err = unmarshalArray(r, &codec)
	if err != nil {
		return 0, err
	}
	read += n
	c.CodecID = media.CodecID(codec)

	return read, nil
}

func unmarshalArray(r io.Reader, value *[]byte) (int, error) {
	read := 0

	sizeBuf := make([]byte, 2)
	n, err := io.ReadFull(r, sizeBuf)
	if err != nil {
		return 0, err
	}
	size := binary.BigEndian.Uint16(sizeBuf)
	read += n

	*value = make([]byte, size)
	n, err = io.ReadFull(r, *value)
	if err != nil {
		return 0, err
	}
	read += n

	return read, nil
}
