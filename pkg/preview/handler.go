// SPDX-License-Identifier: GPL-2.0-or-later

package preview

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/log"

	"github.com/gorilla/websocket"
)

// Subprotocol websocket subprotocol of the viewer endpoint.
const Subprotocol = "sports_record_jpeg_proto"

const writeTimeout = 5 * time.Second

// Encoding of the frames sent to viewers.
type Encoding string

// Encodings.
const (
	EncodingBinary Encoding = "binary"
	EncodingBase64 Encoding = "base64"
)

// ErrUnknownEncoding unknown encoding.
var ErrUnknownEncoding = errors.New("unknown preview encoding")

// ParseEncoding parses a configured encoding, empty is binary.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingBinary:
		return EncodingBinary, nil
	case EncodingBase64:
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
	}
}

func (e Encoding) message(frame Frame) (int, []byte) {
	if e == EncodingBase64 {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(frame)))
		base64.StdEncoding.Encode(out, frame)
		return websocket.TextMessage, out
	}
	return websocket.BinaryMessage, frame
}

// Handler opens a websocket and streams preview frames to the viewer.
func Handler(b *Broadcaster, encoding Encoding, logger *log.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},

		// Viewers are served from the control panel's origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		feed, cancel := b.Subscribe()
		defer cancel()

		viewer := c.RemoteAddr().String()
		logger.Debug().Src("preview").Msgf("viewer connected: %v", viewer)

		// The viewer sends nothing, reading detects the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case frame, ok := <-feed:
				if !ok {
					return
				}
				msgType, data := encoding.message(frame)
				c.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
				if err := c.WriteMessage(msgType, data); err != nil {
					logger.Debug().Src("preview").Msgf("viewer %v: %v", viewer, err)
					return
				}
			case <-closed:
				logger.Debug().Src("preview").Msgf("viewer disconnected: %v", viewer)
				return
			}
		}
	})
}
