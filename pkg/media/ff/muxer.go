// SPDX-License-Identifier: GPL-2.0-or-later

package ff

import (
	"fmt"

	"github.com/EvanMerlock/sports-record/pkg/media"

	"github.com/asticode/go-astiav"
)

// Muxer writes one video stream to a container file. Implements media.Muxer.
type Muxer struct {
	fc     *astiav.FormatContext
	pb     *astiav.IOContext
	stream *astiav.Stream
	pkt    *astiav.Packet

	closed bool
}

// NewMuxer creates the container at path, the format is chosen by the
// extension. Implements media.NewMuxerFunc.
func NewMuxer(path string, c media.StreamConfiguration) (media.Muxer, error) { //nolint:funlen
	ensureRegistered()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	format, err := formatName(path)
	if err != nil {
		return nil, err
	}

	fc, err := astiav.AllocOutputFormatContext(nil, format, path)
	if err != nil {
		return nil, codecError("output context "+path, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("output context: %w", ErrAlloc)
	}
	m := &Muxer{fc: fc, pkt: astiav.AllocPacket()}

	if err := m.addStream(c); err != nil {
		m.Close()
		return nil, err
	}

	pb, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		m.Close()
		return nil, codecError("open "+path, err)
	}
	m.pb = pb
	fc.SetPb(pb)

	return m, nil
}

// The stream parameters come from an encoder opened with the
// negotiated configuration, the same one the node encodes with.
func (m *Muxer) addStream(c media.StreamConfiguration) error {
	id, err := codecID(c.CodecID)
	if err != nil {
		return err
	}
	pix, err := pixelFormat(c.PixelFormat)
	if err != nil {
		return err
	}
	codec := astiav.FindEncoder(id)
	if codec == nil {
		return fmt.Errorf("%w: encoder %v", media.ErrCodecNotFound, c.CodecID)
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return fmt.Errorf("codec context: %w", ErrAlloc)
	}
	defer cc.Free()

	cc.SetWidth(c.Width)
	cc.SetHeight(c.Height)
	cc.SetPixelFormat(pix)
	cc.SetTimeBase(rational(c.TimeBase))

	if err := cc.Open(codec, nil); err != nil {
		return codecError("open stream codec", err)
	}

	m.stream = m.fc.NewStream(nil)
	if m.stream == nil {
		return fmt.Errorf("new stream: %w", ErrAlloc)
	}
	if err := cc.ToCodecParameters(m.stream.CodecParameters()); err != nil {
		return codecError("stream parameters", err)
	}
	m.stream.SetTimeBase(rational(c.TimeBase))
	return nil
}

// WriteHeader writes the container header.
func (m *Muxer) WriteHeader() error {
	return codecError("write header", m.fc.WriteHeader(nil))
}

// TimeBase of the output stream.
func (m *Muxer) TimeBase() media.Rational {
	return fromRational(m.stream.TimeBase())
}

// WritePacket muxes a packet in TimeBase.
func (m *Muxer) WritePacket(p media.Packet) error {
	if err := m.pkt.FromData(p.Payload); err != nil {
		return codecError("packet data", err)
	}
	m.pkt.SetPts(p.PTS)
	m.pkt.SetDts(p.DTS)
	m.pkt.SetStreamIndex(m.stream.Index())
	if p.Key {
		m.pkt.SetFlags(m.pkt.Flags().Add(astiav.PacketFlagKey))
	}

	// Takes ownership of the packet data.
	err := m.fc.WriteInterleavedFrame(m.pkt)
	m.pkt.Unref()
	return codecError("write frame", err)
}

// Flush writes the null frame, draining the interleaving queue.
func (m *Muxer) Flush() error {
	return codecError("flush", m.fc.WriteInterleavedFrame(nil))
}

// WriteTrailer writes the container trailer.
func (m *Muxer) WriteTrailer() error {
	return codecError("write trailer", m.fc.WriteTrailer())
}

// Close closes the file and frees the context. Safe to call multiple times.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.pb != nil {
		err = m.pb.Close()
	}
	m.fc.Free()
	m.pkt.Free()
	return codecError("close", err)
}
