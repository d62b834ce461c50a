// SPDX-License-Identifier: GPL-2.0-or-later

package ff

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EvanMerlock/sports-record/pkg/media"

	"github.com/asticode/go-astiav"
)

// Frame decoded picture. Implements media.Frame.
type Frame struct {
	f *astiav.Frame
}

// Width of the picture.
func (f *Frame) Width() int { return f.f.Width() }

// Height of the picture.
func (f *Frame) Height() int { return f.f.Height() }

// CaptureOptions capture device options.
type CaptureOptions struct {
	// Input format, "v4l2". Probed if empty.
	InputFormat string
	Location    string
	Options     map[string]string

	// Storage stream settings announced in the configuration.
	CodecID     media.CodecID
	PixelFormat media.PixelFormat
	GopSize     int
	MaxBFrames  int
	TimeBase    media.Rational
}

// Capture owns an opened capture device and its decoder.
// Implements media.FrameSource.
type Capture struct {
	fc     *astiav.FormatContext
	stream *astiav.Stream
	dec    *astiav.CodecContext
	pkt    *astiav.Packet
	frame  *astiav.Frame

	config media.StreamConfiguration

	// A capture is read by one pipeline worker at a time.
	mu        sync.Mutex
	closeOnce sync.Once
}

// Capture errors.
var (
	ErrNoVideoStream = errors.New("no video stream")
	ErrAlloc         = errors.New("allocation failed")
)

// OpenCapture opens the capture device.
func OpenCapture(opts CaptureOptions) (*Capture, error) { //nolint:funlen
	ensureRegistered()

	c := &Capture{
		pkt:   astiav.AllocPacket(),
		frame: astiav.AllocFrame(),
	}
	c.fc = astiav.AllocFormatContext()
	if c.fc == nil {
		c.Close()
		return nil, fmt.Errorf("format context: %w", ErrAlloc)
	}

	var inputFormat *astiav.InputFormat
	if opts.InputFormat != "" {
		inputFormat = astiav.FindInputFormat(opts.InputFormat)
		if inputFormat == nil {
			c.fc.Free()
			c.fc = nil
			c.Close()
			return nil, fmt.Errorf("input format not found: %v", opts.InputFormat)
		}
	}

	d, err := newDictionary(opts.Options)
	if err != nil {
		c.fc.Free()
		c.fc = nil
		c.Close()
		return nil, err
	}
	defer d.Free()

	if err := c.fc.OpenInput(opts.Location, inputFormat, d); err != nil {
		// A failed open frees the context.
		c.fc = nil
		c.Close()
		return nil, codecError("open input "+opts.Location, err)
	}
	if err := c.fc.FindStreamInfo(nil); err != nil {
		c.Close()
		return nil, codecError("find stream info", err)
	}

	for _, s := range c.fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			c.stream = s
			break
		}
	}
	if c.stream == nil {
		c.Close()
		return nil, ErrNoVideoStream
	}

	params := c.stream.CodecParameters()
	decoder := astiav.FindDecoder(params.CodecID())
	if decoder == nil {
		c.Close()
		return nil, fmt.Errorf("%w: decoder %v", media.ErrCodecNotFound, params.CodecID())
	}
	c.dec = astiav.AllocCodecContext(decoder)
	if c.dec == nil {
		c.Close()
		return nil, fmt.Errorf("decoder context: %w", ErrAlloc)
	}
	if err := params.ToCodecContext(c.dec); err != nil {
		c.Close()
		return nil, codecError("decoder parameters", err)
	}
	if err := c.dec.Open(decoder, nil); err != nil {
		c.Close()
		return nil, codecError("open decoder", err)
	}

	c.config = media.StreamConfiguration{
		Height:      c.dec.Height(),
		Width:       c.dec.Width(),
		GopSize:     opts.GopSize,
		MaxBFrames:  opts.MaxBFrames,
		PixelFormat: opts.PixelFormat,
		CodecID:     opts.CodecID,
		TimeBase:    opts.TimeBase,
	}
	if err := c.config.Validate(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Configuration of the storage stream.
func (c *Capture) Configuration() media.StreamConfiguration {
	return c.config
}

// InputPixelFormat returns the decoder's pixel format.
func (c *Capture) InputPixelFormat() string {
	return c.dec.PixelFormat().String()
}

// ReadFrame reads and decodes until a picture is available. The frame
// is valid until the next call.
func (c *Capture) ReadFrame(ctx context.Context) (media.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frame.Unref()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := c.fc.ReadFrame(c.pkt); err != nil {
			return nil, codecError("read frame", err)
		}
		if c.pkt.StreamIndex() != c.stream.Index() {
			c.pkt.Unref()
			continue
		}

		err := c.dec.SendPacket(c.pkt)
		c.pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return nil, codecError("decode", err)
		}

		err = c.dec.ReceiveFrame(c.frame)
		if errors.Is(err, astiav.ErrEagain) {
			continue
		}
		if err != nil {
			return nil, codecError("receive frame", err)
		}
		return &Frame{f: c.frame}, nil
	}
}

// Close frees the device. Safe to call multiple times.
func (c *Capture) Close() {
	c.closeOnce.Do(func() {
		if c.dec != nil {
			c.dec.Free()
		}
		if c.fc != nil {
			c.fc.CloseInput()
			c.fc.Free()
		}
		if c.frame != nil {
			c.frame.Free()
		}
		if c.pkt != nil {
			c.pkt.Free()
		}
	})
}
