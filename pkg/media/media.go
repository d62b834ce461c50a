// SPDX-License-Identifier: GPL-2.0-or-later

// Package media holds the codec independent types shared by the capture
// pipeline, the wire protocol and the segment muxers.
package media

import (
	"context"
	"errors"
	"fmt"
)

// PixelFormat FFmpeg pixel format name, "yuv420p", "yuyv422".
type PixelFormat string

// Pixel formats.
const (
	PixelFormatYUV420P  PixelFormat = "yuv420p"
	PixelFormatYUVJ420P PixelFormat = "yuvj420p"
	PixelFormatYUYV422  PixelFormat = "yuyv422"
	PixelFormatRGB24    PixelFormat = "rgb24"
)

// CodecID FFmpeg codec name.
type CodecID string

// Codecs.
const (
	CodecH264     CodecID = "h264"
	CodecMJPEG    CodecID = "mjpeg"
	CodecPNG      CodecID = "png"
	CodecRawVideo CodecID = "rawvideo"
)

// StreamConfiguration is negotiated once per connection.
type StreamConfiguration struct {
	Height      int         `json:"height" yaml:"height" toml:"height"`
	Width       int         `json:"width" yaml:"width" toml:"width"`
	GopSize     int         `json:"gop_size" yaml:"gopSize" toml:"gop_size"`
	MaxBFrames  int         `json:"max_b_frames" yaml:"maxBFrames" toml:"max_b_frames"`
	PixelFormat PixelFormat `json:"pixel_format" yaml:"pixelFormat" toml:"pixel_format"`
	CodecID     CodecID     `json:"codec_id" yaml:"codecID" toml:"codec_id"`
	TimeBase    Rational    `json:"time_base" yaml:"timeBase" toml:"time_base"`
}

// ErrInvalidConfiguration invalid stream configuration.
var ErrInvalidConfiguration = errors.New("invalid stream configuration")

// Validate stream configuration.
func (c StreamConfiguration) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfiguration, c.Width, c.Height)
	case c.GopSize < 0 || c.MaxBFrames < 0:
		return fmt.Errorf("%w: gop %d b-frames %d",
			ErrInvalidConfiguration, c.GopSize, c.MaxBFrames)
	case c.PixelFormat == "":
		return fmt.Errorf("%w: missing pixel format", ErrInvalidConfiguration)
	case c.CodecID == "":
		return fmt.Errorf("%w: missing codec", ErrInvalidConfiguration)
	case !c.TimeBase.Valid():
		return fmt.Errorf("%w: time base %v", ErrInvalidConfiguration, c.TimeBase)
	}
	return nil
}

func (c StreamConfiguration) String() string {
	return fmt.Sprintf("%s %dx%d %s gop=%d bf=%d tb=%v",
		c.CodecID, c.Width, c.Height, c.PixelFormat, c.GopSize, c.MaxBFrames, c.TimeBase)
}

// Packet encoded packet. Owned by whichever stage currently holds it.
type Packet struct {
	Payload []byte
	PTS     int64
	DTS     int64
	Key     bool
}

// CodecError is returned when the media library reports a failure.
// Code is the library's numeric return code.
type CodecError struct {
	Op   string
	Code int
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v (code %d)", e.Op, e.Err, e.Code)
}

func (e *CodecError) Unwrap() error { return e.Err }

// ErrCodecNotFound codec not found.
var ErrCodecNotFound = errors.New("codec not found")

// Frame is a raw picture. Only valid until the next read from its source.
type Frame interface {
	Width() int
	Height() int
}

// FrameSource produces raw pictures from a capture device.
type FrameSource interface {
	// ReadFrame blocks until the next picture is available.
	ReadFrame(ctx context.Context) (Frame, error)

	// Configuration of the opened capture stream.
	Configuration() StreamConfiguration
}

// Encoder turns raw pictures into packets in TimeBase.
type Encoder interface {
	// Encode may return zero or more packets, codecs can buffer.
	Encode(f Frame, pts int64) ([]Packet, error)

	// Flush sends a null frame and returns the drained packets.
	Flush() ([]Packet, error)

	TimeBase() Rational
	Close() error
}

// NewEncoderFunc opens an encoder for the configuration.
type NewEncoderFunc func(StreamConfiguration) (Encoder, error)

// Muxer writes the packets of one segment to a container.
type Muxer interface {
	WriteHeader() error

	// TimeBase of the output stream, may change during WriteHeader.
	TimeBase() Rational

	// WritePacket muxes a packet already in TimeBase.
	WritePacket(Packet) error

	// Flush writes a null frame.
	Flush() error

	WriteTrailer() error
	Close() error
}

// NewMuxerFunc creates a muxer for the file at path.
type NewMuxerFunc func(path string, c StreamConfiguration) (Muxer, error)
