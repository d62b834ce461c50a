// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/media"
)

// PreviewNone preview codec that disables the preview.
const PreviewNone media.CodecID = "none"

// ClientConfig camera node configuration.
type ClientConfig struct {
	Name string `yaml:"name" toml:"name"`

	// Websocket url of the recorder.
	RecorderURL string `yaml:"recorderURL" toml:"recorder_url"`

	// Preview viewers connect to PreviewAddress, the websocket is served at /preview.
	PreviewAddress  string `yaml:"previewAddress" toml:"preview_address"`
	PreviewEncoding string `yaml:"previewEncoding" toml:"preview_encoding"`

	// Metrics are served on HTTPAddress.
	HTTPAddress string `yaml:"httpAddress" toml:"http_address"`

	MinBackoff Duration `yaml:"minBackoff" toml:"min_backoff"`
	MaxBackoff Duration `yaml:"maxBackoff" toml:"max_backoff"`

	Camera CameraConfig `yaml:"camera" toml:"camera_settings"`
}

// CameraConfig capture and encoder settings.
type CameraConfig struct {
	InputFormat string            `yaml:"inputFormat" toml:"input_format"`
	Device      string            `yaml:"device" toml:"device"`
	Options     map[string]string `yaml:"options,omitempty" toml:"options,omitempty"`

	PixelFormat media.PixelFormat `yaml:"pixelFormat" toml:"pixel_format"`
	GopSize     int               `yaml:"gopSize" toml:"gop_size"`
	MaxBFrames  int               `yaml:"maxBFrames" toml:"max_b_frames"`
	TimeBase    media.Rational    `yaml:"timeBase" toml:"time_base"`
	Preset      string            `yaml:"preset" toml:"preset"`
	CRF         int               `yaml:"crf" toml:"crf"`

	// "none" disables the preview.
	PreviewCodec media.CodecID `yaml:"previewCodec" toml:"preview_codec"`
	PreviewWidth int           `yaml:"previewWidth" toml:"preview_width"`
}

// DefaultClient returns the default client configuration.
func DefaultClient() ClientConfig {
	var c ClientConfig
	c.fillDefaults()
	return c
}

func (c *ClientConfig) fillDefaults() {
	if c.Name == "" {
		c.Name = "CAMERA_NAME"
	}
	if c.RecorderURL == "" {
		c.RecorderURL = "ws://127.0.0.1:8000/record"
	}
	if c.PreviewAddress == "" {
		c.PreviewAddress = ":4000"
	}
	if c.PreviewEncoding == "" {
		c.PreviewEncoding = "binary"
	}
	if c.HTTPAddress == "" {
		c.HTTPAddress = ":8070"
	}
	if c.MinBackoff == 0 {
		c.MinBackoff = Duration(time.Second)
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = Duration(30 * time.Second)
	}

	cam := &c.Camera
	if cam.InputFormat == "" {
		cam.InputFormat = "v4l2"
	}
	if cam.Device == "" {
		cam.Device = "/dev/video0"
	}
	if cam.PixelFormat == "" {
		cam.PixelFormat = media.PixelFormatYUV420P
	}
	if cam.GopSize == 0 {
		cam.GopSize = 10
	}
	if !cam.TimeBase.Valid() {
		cam.TimeBase = media.NewRational(1, 30)
	}
	if cam.Preset == "" {
		cam.Preset = "ultrafast"
	}
	if cam.CRF == 0 {
		cam.CRF = 28
	}
	if cam.PreviewCodec == "" {
		cam.PreviewCodec = media.CodecMJPEG
	}
	if cam.PreviewWidth == 0 {
		cam.PreviewWidth = 320
	}
}

// Validate client configuration.
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.RecorderURL)
	if err != nil {
		return fmt.Errorf("%w: recorder url: %w", ErrInvalidValue, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: recorder url scheme %q", ErrInvalidValue, u.Scheme)
	}
	if err := validateAddress("preview address", c.PreviewAddress); err != nil {
		return err
	}
	if err := validateAddress("http address", c.HTTPAddress); err != nil {
		return err
	}
	if c.MinBackoff <= 0 || c.MaxBackoff < c.MinBackoff {
		return fmt.Errorf("%w: backoff %v..%v", ErrInvalidValue,
			time.Duration(c.MinBackoff), time.Duration(c.MaxBackoff))
	}

	cam := c.Camera
	if cam.GopSize < 0 || cam.MaxBFrames < 0 {
		return fmt.Errorf("%w: gop %d b-frames %d", ErrInvalidValue, cam.GopSize, cam.MaxBFrames)
	}
	if cam.CRF < 0 || cam.CRF > 51 {
		return fmt.Errorf("%w: crf %d", ErrInvalidValue, cam.CRF)
	}
	switch cam.PreviewCodec {
	case PreviewNone, media.CodecMJPEG, media.CodecPNG:
	default:
		return fmt.Errorf("%w: preview codec %q", ErrInvalidValue, cam.PreviewCodec)
	}
	if cam.PreviewWidth < 0 {
		return fmt.Errorf("%w: preview width %d", ErrInvalidValue, cam.PreviewWidth)
	}
	return nil
}

// PreviewEnabled reports if the preview is enabled.
func (c CameraConfig) PreviewEnabled() bool {
	return c.PreviewCodec != PreviewNone
}

// EncoderOptions private options of the storage encoder.
func (c CameraConfig) EncoderOptions() map[string]string {
	return map[string]string{
		"preset": c.Preset,
		"crf":    fmt.Sprint(c.CRF),
	}
}

// LoadClient loads, fills in and validates the client configuration.
func LoadClient(path string) (*ClientConfig, error) {
	var c ClientConfig
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
