// SPDX-License-Identifier: GPL-2.0-or-later

package segfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/EvanMerlock/sports-record/pkg/media"
)

// Writer errors.
var (
	ErrHeaderNotWritten = errors.New("header not written")
	ErrHeaderWritten    = errors.New("header already written")
	ErrTrailerWritten   = errors.New("trailer already written")
)

// Writer writes a segment file. Implements media.Muxer.
type Writer struct {
	out    io.Writer
	closer io.Closer
	header Header

	headerWritten  bool
	trailerWritten bool
	closed         bool
	packetCount    uint32
}

// NewWriter creates a new Writer. The header is written by WriteHeader.
func NewWriter(out io.Writer, header Header) *Writer {
	w := &Writer{
		out:    out,
		header: header,
	}
	if c, ok := out.(io.Closer); ok {
		w.closer = c
	}
	return w
}

// NewMuxer creates the file at path. Implements media.NewMuxerFunc.
func NewMuxer(path string, c media.StreamConfiguration) (media.Muxer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}
	return NewWriter(file, Header{Config: c}), nil
}

// WriteHeader writes the segment header.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return ErrHeaderWritten
	}
	if _, err := w.out.Write(w.header.Marshal()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// TimeBase of the stream.
func (w *Writer) TimeBase() media.Rational {
	return w.header.Config.TimeBase
}

func (w *Writer) canWrite() error {
	if !w.headerWritten {
		return ErrHeaderNotWritten
	}
	if w.trailerWritten {
		return ErrTrailerWritten
	}
	return nil
}

// WritePacket appends a packet.
func (w *Writer) WritePacket(p media.Packet) error {
	if err := w.canWrite(); err != nil {
		return err
	}
	if len(p.Payload) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(p.Payload))
	}
	if _, err := w.out.Write(marshalPacket(p)); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	w.packetCount++
	return nil
}

// Flush writes a flush record.
func (w *Writer) Flush() error {
	if err := w.canWrite(); err != nil {
		return err
	}
	if _, err := w.out.Write([]byte{uint8(KindFlush)}); err != nil {
		return fmt.Errorf("write flush: %w", err)
	}
	return nil
}

// WriteTrailer writes the trailer, no packets can be written after it.
func (w *Writer) WriteTrailer() error {
	if err := w.canWrite(); err != nil {
		return err
	}
	if _, err := w.out.Write(marshalTrailer(w.packetCount)); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	w.trailerWritten = true
	return nil
}

// Close closes the underlying file. Safe to call multiple times.
func (w *Writer) Close() error {
	if w.closed || w.closer == nil {
		return nil
	}
	w.closed = true
	return w.closer.Close()
}
