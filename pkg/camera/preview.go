// SPDX-License-Identifier: GPL-2.0-or-later

package camera

import (
	"fmt"

	"github.com/EvanMerlock/sports-record/pkg/media"
)

// ErrPreviewCodec unsupported preview codec.
var ErrPreviewCodec = fmt.Errorf("%w: preview codec", media.ErrInvalidConfiguration)

// PreviewConfig derives the preview stream from the storage stream.
// Every preview packet is a complete picture. The picture is scaled
// down to width, keeping the aspect ratio, zero keeps the size.
func PreviewConfig(
	storage media.StreamConfiguration,
	codec media.CodecID,
	width int,
) (media.StreamConfiguration, error) {
	var pix media.PixelFormat
	switch codec {
	case media.CodecMJPEG:
		pix = media.PixelFormatYUVJ420P
	case media.CodecPNG:
		pix = media.PixelFormatRGB24
	default:
		return media.StreamConfiguration{}, fmt.Errorf("%w: %q", ErrPreviewCodec, codec)
	}

	c := storage
	c.CodecID = codec
	c.PixelFormat = pix
	c.GopSize = 1
	c.MaxBFrames = 0

	if width > 0 && width < storage.Width {
		c.Width = even(width)
		c.Height = even(storage.Height * width / storage.Width)
	}
	return c, nil
}

func even(v int) int {
	if v < 2 {
		return 2
	}
	return v &^ 1
}
