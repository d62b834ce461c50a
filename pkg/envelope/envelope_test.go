// SPDX-License-Identifier: GPL-2.0-or-later

package envelope

import (
	"testing"

	"github.com/EvanMerlock/sports-record/pkg/media"

	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	h := Handshake{
		StreamConfiguration: media.StreamConfiguration{
			Height:      480,
			Width:       640,
			GopSize:     10,
			MaxBFrames:  1,
			PixelFormat: media.PixelFormatYUV420P,
			CodecID:     media.CodecH264,
			TimeBase:    media.NewRational(1, 30),
		},
		PreviewAddress: "ws://10.0.0.2:4000/preview",
	}

	raw, err := Encode(h)
	require.NoError(t, err)
	require.Equal(t, uint8(TagHandshake), raw[0])

	expectedBody := `{"stream_configuration":{"height":480,"width":640,` +
		`"gop_size":10,"max_b_frames":1,"pixel_format":"yuv420p",` +
		`"codec_id":"h264","time_base":"1/30"},` +
		`"preview_address":"ws://10.0.0.2:4000/preview"}`
	require.JSONEq(t, expectedBody, string(raw[1:]))

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, h, decoded)

	raw2, err := Encode(&h)
	require.NoError(t, err)
	require.Equal(t, raw, raw2)
}

func TestPackets(t *testing.T) {
	packets := Packets{
		{Payload: []byte{1, 2}, PTS: 0, DTS: -1, Key: true},
		{Payload: []byte{}, PTS: 1, DTS: 0},
		{Payload: []byte{3}, PTS: 2, DTS: 1},
	}

	raw, err := Encode(packets)
	require.NoError(t, err)

	expected := []byte{
		2,          // Tag.
		0, 0, 0, 3, // Count.

		0, 0, 0, 0, 0, 0, 0, 0, // PTS.
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, // DTS.
		1,          // Flags.
		0, 0, 0, 2, // Size.
		1, 2, // Payload.

		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 0,
		0,
		0, 0, 0, 0,

		0, 0, 0, 0, 0, 0, 0, 2,
		0, 0, 0, 0, 0, 0, 0, 1,
		0,
		0, 0, 0, 1,
		3,
	}
	require.Equal(t, expected, raw)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, packets, decoded)
}

func TestEndOfStream(t *testing.T) {
	raw, err := Encode(EndOfStream{})
	require.NoError(t, err)
	require.Equal(t, []byte{3}, raw)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, EndOfStream{}, decoded)
	require.Equal(t, TagEndOfStream, decoded.Tag())
}

func TestDecodeErrors(t *testing.T) {
	validPackets, err := Encode(Packets{{Payload: []byte{1, 2, 3}}})
	require.NoError(t, err)

	cases := []struct {
		name     string
		input    []byte
		expected error
	}{
		{"empty", nil, ErrMalformed},
		{"unknownTag", []byte{9}, ErrUnknownTag},
		{"handshakeJSON", []byte{1, '{'}, ErrMalformed},
		{"endOfStreamBody", []byte{3, 0}, ErrMalformed},
		{"packetsNoCount", []byte{2, 0, 0}, ErrMalformed},
		{"packetsCountTooLarge", []byte{2, 0xff, 0xff, 0xff, 0xff}, ErrMalformed},
		{"packetsTruncatedPayload", validPackets[:len(validPackets)-1], ErrMalformed},
		{"packetsTrailingBytes", append(append([]byte{}, validPackets...), 0), ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.input)
			require.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestControl(t *testing.T) {
	require.Equal(t, []byte("START"), ControlStart.Bytes())
	require.Equal(t, []byte("STOP"), ControlStop.Bytes())

	c, err := ParseControl([]byte("START"))
	require.NoError(t, err)
	require.Equal(t, ControlStart, c)

	c, err = ParseControl([]byte("STOP"))
	require.NoError(t, err)
	require.Equal(t, ControlStop, c)

	_, err = ParseControl([]byte("start"))
	require.ErrorIs(t, err, ErrUnknownControl)
	require.Equal(t, "unknown(0)", Control(0).String())
}
