// SPDX-License-Identifier: GPL-2.0-or-later

// Package ff implements the media interfaces with FFmpeg through go-astiav.
// Every foreign handle is owned by exactly one wrapper and freed by its Close.
package ff

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"

	"github.com/asticode/go-astiav"
)

var (
	registerOnce sync.Once
	logOnce      sync.Once
)

// ensureRegistered registers the input devices, v4l2 and friends.
func ensureRegistered() {
	registerOnce.Do(astiav.RegisterAllDevices)
}

// RouteLogs sends FFmpeg's log output at or above level to the logger.
// Only the first call has an effect.
func RouteLogs(logger *log.Logger, level log.Level) {
	logOnce.Do(func() {
		ensureRegistered()
		astiav.SetLogLevel(astiav.LogLevel(level))
		astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, _, msg string) {
			msg = strings.TrimSpace(msg)
			if msg == "" || log.Level(l) > level {
				return
			}
			if c != nil {
				if cl := c.Class(); cl != nil {
					msg = cl.String() + ": " + msg
				}
			}
			logger.Level(logLevel(l)).Src("ffmpeg").Msg(msg)
		})
	})
}

func logLevel(l astiav.LogLevel) log.Level {
	switch {
	case log.Level(l) <= log.LevelError:
		return log.LevelError
	case log.Level(l) <= log.LevelWarning:
		return log.LevelWarning
	case log.Level(l) <= log.LevelInfo:
		return log.LevelInfo
	default:
		return log.LevelDebug
	}
}

// codecError maps a library error to a media.CodecError keeping the return code.
func codecError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := -1
	var avErr astiav.Error
	if errors.As(err, &avErr) {
		code = int(avErr)
	}
	return &media.CodecError{Op: op, Code: code, Err: err}
}

func codecID(id media.CodecID) (astiav.CodecID, error) {
	switch id {
	case media.CodecH264:
		return astiav.CodecIDH264, nil
	case media.CodecMJPEG:
		return astiav.CodecIDMjpeg, nil
	case media.CodecPNG:
		return astiav.CodecIDPng, nil
	case media.CodecRawVideo:
		return astiav.CodecIDRawvideo, nil
	default:
		return 0, fmt.Errorf("%w: %v", media.ErrCodecNotFound, id)
	}
}

// ErrUnknownPixelFormat unknown pixel format.
var ErrUnknownPixelFormat = errors.New("unknown pixel format")

func pixelFormat(name media.PixelFormat) (astiav.PixelFormat, error) {
	pf := astiav.FindPixelFormatByName(string(name))
	if pf == astiav.PixelFormatNone {
		return pf, fmt.Errorf("%w: %v", ErrUnknownPixelFormat, name)
	}
	return pf, nil
}

func rational(r media.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func fromRational(r astiav.Rational) media.Rational {
	return media.NewRational(r.Num(), r.Den())
}

func newDictionary(options map[string]string) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	for k, v := range options {
		if err := d.Set(k, v, 0); err != nil {
			d.Free()
			return nil, fmt.Errorf("set option %v=%v: %w", k, v, err)
		}
	}
	return d, nil
}

// ErrUnknownContainer unknown container extension.
var ErrUnknownContainer = errors.New("unknown container")

func formatName(path string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "mp4":
		return "mp4", nil
	case "mkv":
		return "matroska", nil
	case "mov":
		return "mov", nil
	case "ts":
		return "mpegts", nil
	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownContainer, path)
	}
}
