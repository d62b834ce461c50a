// SPDX-License-Identifier: GPL-2.0-or-later

package ff

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/EvanMerlock/sports-record/pkg/media"

	"github.com/asticode/go-astiav"
)

// Scaler converts pictures to a size and pixel format.
type Scaler struct {
	ssc *astiav.SoftwareScaleContext
	dst *astiav.Frame

	srcW, srcH int
	srcPix     astiav.PixelFormat

	dstW, dstH int
	dstPix     astiav.PixelFormat
}

// NewScaler returns a scaler to the given size and pixel format.
// The context is created on the first frame.
func NewScaler(width, height int, pix astiav.PixelFormat) *Scaler {
	return &Scaler{dstW: width, dstH: height, dstPix: pix}
}

func (s *Scaler) ensure(src *astiav.Frame) error {
	sw, sh, sp := src.Width(), src.Height(), src.PixelFormat()
	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}
	s.Close()

	flags := astiav.NewSoftwareScaleContextFlags()
	ssc, err := astiav.CreateSoftwareScaleContext(sw, sh, sp, s.dstW, s.dstH, s.dstPix, flags)
	if err != nil {
		return codecError(fmt.Sprintf("scale context %dx%d %v -> %dx%d %v",
			sw, sh, sp, s.dstW, s.dstH, s.dstPix), err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(s.dstW)
	dst.SetHeight(s.dstH)
	dst.SetPixelFormat(s.dstPix)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return codecError("scale buffer", err)
	}

	s.ssc, s.dst = ssc, dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	return nil
}

// Scale returns src converted. The result is owned by the scaler and
// valid until the next call. src is returned as is if no conversion is needed.
func (s *Scaler) Scale(src *astiav.Frame) (*astiav.Frame, error) {
	if src.Width() == s.dstW && src.Height() == s.dstH && src.PixelFormat() == s.dstPix {
		return src, nil
	}
	if err := s.ensure(src); err != nil {
		return nil, err
	}
	// The encoder may still reference the previous picture.
	if err := s.dst.MakeWritable(); err != nil {
		return nil, codecError("scale writable", err)
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return nil, codecError("scale", err)
	}
	return s.dst, nil
}

// Close frees the scale context.
func (s *Scaler) Close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

// Encoder owns an opened codec context. Implements media.Encoder.
type Encoder struct {
	cc     *astiav.CodecContext
	scaler *Scaler
	pkt    *astiav.Packet

	config media.StreamConfiguration
	closed bool
}

// ErrNotFFFrame frame from another backend.
var ErrNotFFFrame = errors.New("frame was not decoded by ffmpeg")

// NewEncoder opens an encoder for the configuration. options are
// private codec options like preset and crf.
func NewEncoder(c media.StreamConfiguration, options map[string]string) (*Encoder, error) {
	ensureRegistered()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	id, err := codecID(c.CodecID)
	if err != nil {
		return nil, err
	}
	pix, err := pixelFormat(c.PixelFormat)
	if err != nil {
		return nil, err
	}

	codec := astiav.FindEncoder(id)
	if codec == nil {
		return nil, fmt.Errorf("%w: encoder %v", media.ErrCodecNotFound, c.CodecID)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("encoder context: %w", ErrAlloc)
	}

	cc.SetWidth(c.Width)
	cc.SetHeight(c.Height)
	cc.SetPixelFormat(pix)
	cc.SetTimeBase(rational(c.TimeBase))
	cc.SetFramerate(astiav.NewRational(c.TimeBase.Den, c.TimeBase.Num))

	opts := map[string]string{
		"g":  strconv.Itoa(c.GopSize),
		"bf": strconv.Itoa(c.MaxBFrames),
	}
	for k, v := range options {
		opts[k] = v
	}
	d, err := newDictionary(opts)
	if err != nil {
		cc.Free()
		return nil, err
	}
	defer d.Free()

	if err := cc.Open(codec, d); err != nil {
		cc.Free()
		return nil, codecError("open encoder "+string(c.CodecID), err)
	}

	return &Encoder{
		cc:     cc,
		scaler: NewScaler(c.Width, c.Height, pix),
		pkt:    astiav.AllocPacket(),
		config: c,
	}, nil
}

// NewEncoderFunc returns a media.NewEncoderFunc with fixed codec options.
func NewEncoderFunc(options map[string]string) media.NewEncoderFunc {
	return func(c media.StreamConfiguration) (media.Encoder, error) {
		return NewEncoder(c, options)
	}
}

// TimeBase of the returned packets.
func (e *Encoder) TimeBase() media.Rational {
	return e.config.TimeBase
}

// Encode scales and encodes the frame with pts.
func (e *Encoder) Encode(f media.Frame, pts int64) ([]media.Packet, error) {
	frame, ok := f.(*Frame)
	if !ok {
		return nil, ErrNotFFFrame
	}

	scaled, err := e.scaler.Scale(frame.f)
	if err != nil {
		return nil, err
	}
	scaled.SetPts(pts)

	if err := e.cc.SendFrame(scaled); err != nil {
		return nil, codecError("send frame", err)
	}
	return e.receivePackets()
}

// Flush sends the null frame and drains the encoder.
func (e *Encoder) Flush() ([]media.Packet, error) {
	if err := e.cc.SendFrame(nil); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, nil
		}
		return nil, codecError("send null frame", err)
	}
	return e.receivePackets()
}

func (e *Encoder) receivePackets() ([]media.Packet, error) {
	var packets []media.Packet
	for {
		err := e.cc.ReceivePacket(e.pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return packets, nil
		}
		if err != nil {
			return packets, codecError("receive packet", err)
		}

		e.pkt.RescaleTs(e.cc.TimeBase(), rational(e.config.TimeBase))

		data := e.pkt.Data()
		payload := make([]byte, len(data))
		copy(payload, data)

		packets = append(packets, media.Packet{
			Payload: payload,
			PTS:     e.pkt.Pts(),
			DTS:     e.pkt.Dts(),
			Key:     e.pkt.Flags().Has(astiav.PacketFlagKey),
		})
		e.pkt.Unref()
	}
}

// Close frees the encoder. Safe to call multiple times.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.scaler.Close()
	e.pkt.Free()
	e.cc.Free()
	return nil
}
