// SPDX-License-Identifier: GPL-2.0-or-later

// Package transport sends and receives discrete messages over websockets.
// Binary messages carry envelopes and text messages carry control sequences.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/envelope"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 32 * 1024 * 1024
	writeTimeout   = 10 * time.Second
)

// Message is either an envelope or a control instruction.
type Message struct {
	Envelope envelope.Envelope
	Control  envelope.Control
}

// IsControl reports if the message is a control instruction.
func (m Message) IsControl() bool {
	return m.Envelope == nil
}

// ErrDecode is returned by ReadMessage when a single message could not be
// decoded. The connection is still usable.
var ErrDecode = errors.New("decode message")

// Conn message connection.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws}
}

// Dial connects to the websocket url.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil) //nolint:bodyclose
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", url, err)
	}
	return NewConn(ws), nil
}

// Handler upgrades requests and passes the connection to onConn.
// The connection is owned by onConn.
func Handler(onConn func(*Conn)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConn(NewConn(ws))
	})
}

// ReadMessage blocks until the next message. Returns io.EOF when the
// peer closed the connection and an error wrapping ErrDecode when the
// message was malformed.
func (c *Conn) ReadMessage() (Message, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if isClosed(err) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("read: %w", err)
	}

	switch msgType {
	case websocket.TextMessage:
		control, err := envelope.ParseControl(data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return Message{Control: control}, nil

	case websocket.BinaryMessage:
		e, err := envelope.Decode(data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return Message{Envelope: e}, nil

	default:
		return Message{}, fmt.Errorf("%w: message type %d", ErrDecode, msgType)
	}
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

// WriteEnvelope sends one envelope.
func (c *Conn) WriteEnvelope(e envelope.Envelope) error {
	raw, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	return c.write(websocket.BinaryMessage, raw)
}

// WriteControl sends a raw control sequence.
func (c *Conn) WriteControl(control envelope.Control) error {
	return c.write(websocket.TextMessage, control.Bytes())
}

func (c *Conn) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// SetReadDeadline sets the deadline of the next reads, zero clears it.
// A read that times out breaks the connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close sends a close message and closes the connection.
// Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl( //nolint:errcheck
			websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
