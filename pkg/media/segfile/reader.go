// SPDX-License-Identifier: GPL-2.0-or-later

package segfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader reads a single segment file.
type Reader struct {
	in         io.Reader
	headerSize int
	done       bool
}

// NewReader creates a new reader and reads the header.
func NewReader(in io.Reader) (*Reader, *Header, error) {
	var header Header
	headerSize, err := header.Unmarshal(in)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return &Reader{in: in, headerSize: headerSize}, &header, nil
}

// Reader errors.
var (
	ErrUnknownRecord  = errors.New("unknown record")
	ErrPacketTooLarge = errors.New("packet too large")
)

// MaxPacketSize largest packet payload a segment file holds.
const MaxPacketSize = 32 * 1024 * 1024

// ReadRecord returns the next record. Returns io.EOF after the
// trailer and io.ErrUnexpectedEOF if the file ends without one.
func (r *Reader) ReadRecord() (*Record, error) {
	if r.done {
		return nil, io.EOF
	}

	kind := make([]byte, 1)
	if _, err := io.ReadFull(r.in, kind); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	switch Kind(kind[0]) {
	case KindPacket:
		buf := make([]byte, packetHeaderSize)
		if _, err := io.ReadFull(r.in, buf); err != nil {
			return nil, unexpected(err)
		}
		p, size := unmarshalPacketHeader(buf)
		if size > MaxPacketSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size)
		}
		p.Payload = make([]byte, size)
		if _, err := io.ReadFull(r.in, p.Payload); err != nil {
			return nil, unexpected(err)
		}
		return &Record{Kind: KindPacket, Packet: p}, nil

	case KindFlush:
		return &Record{Kind: KindFlush}, nil

	case KindTrailer:
		buf := make([]byte, trailerSize)
		if _, err := io.ReadFull(r.in, buf); err != nil {
			return nil, unexpected(err)
		}
		r.done = true
		return &Record{
			Kind:        KindTrailer,
			PacketCount: binary.BigEndian.Uint32(buf),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecord, kind[0])
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadAllRecords reads records until the trailer.
func (r *Reader) ReadAllRecords() ([]Record, error) {
	var records []Record
	for {
		record, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, *record)
	}
}

// ReadFile reads the header and all records of the file at path.
func ReadFile(path string) (*Header, []Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r, header, err := NewReader(file)
	if err != nil {
		return nil, nil, err
	}
	records, err := r.ReadAllRecords()
	if err != nil {
		return header, records, err
	}
	return header, records, nil
}
