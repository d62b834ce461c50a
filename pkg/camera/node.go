// SPDX-License-Identifier: GPL-2.0-or-later

package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/envelope"
	"github.com/EvanMerlock/sports-record/pkg/transport"
)

// Conn connection to the recorder.
type Conn interface {
	ReadMessage() (transport.Message, error)
	WriteEnvelope(envelope.Envelope) error
	Close() error
}

// DialFunc connects to the recorder. The connection is owned by the caller.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial connects to the recorder over the websocket transport.
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// NodeConfig camera node configuration.
type NodeConfig struct {
	URL string

	// Announced in the handshake.
	PreviewAddress string

	// Sender is set per connection.
	Session SessionConfig

	Dial DialFunc

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Node connects a capture device to the recorder. Every connection gets
// its own session, the capture device is shared by all of them.
type Node struct {
	c NodeConfig
}

// NewNode returns a new node.
func NewNode(c NodeConfig) *Node {
	if c.Dial == nil {
		c.Dial = Dial
	}
	if c.MinBackoff == 0 {
		c.MinBackoff = defaultMinBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return &Node{c: c}
}

// Run connects and reconnects until ctx is canceled.
func (n *Node) Run(ctx context.Context) {
	logger := n.c.Session.Logger
	backoff := n.c.MinBackoff
	for {
		err := n.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		var connected *connectedError
		if errors.As(err, &connected) {
			backoff = n.c.MinBackoff
			err = connected.err
		}
		logger.Error().Src("camera").
			Msgf("recorder connection: %v, retrying in %v", err, backoff)
		n.c.Session.Metrics.IncReconnects()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > n.c.MaxBackoff {
			backoff = n.c.MaxBackoff
		}
	}
}

// connectedError is returned once the handshake was accepted, the
// backoff is reset.
type connectedError struct {
	err error
}

func (e *connectedError) Error() string { return e.err.Error() }

func (n *Node) connect(ctx context.Context) error {
	conn, err := n.c.Dial(ctx, n.c.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblocks ReadMessage.
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	handshake := envelope.Handshake{
		StreamConfiguration: n.c.Session.Source.Configuration(),
		PreviewAddress:      n.c.PreviewAddress,
	}
	if err := conn.WriteEnvelope(handshake); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	logger := n.c.Session.Logger
	logger.Info().Src("camera").Msgf("connected to %v", n.c.URL)

	sessionConfig := n.c.Session
	sessionConfig.Sender = conn
	session := NewSession(sessionConfig)

	sessionCtx, cancel := context.WithCancel(ctx)
	sessionDone := make(chan struct{})
	go func() {
		session.Run(sessionCtx)
		close(sessionDone)
	}()
	defer func() {
		cancel()
		<-sessionDone
	}()

	for {
		msg, err := conn.ReadMessage()
		if errors.Is(err, transport.ErrDecode) {
			logger.Warn().Src("camera").Msgf("skipped message: %v", err)
			continue
		}
		if err != nil {
			// The recorder finalizes the segment on disconnect.
			session.Send(sessionCtx, InstructionServerQuit) //nolint:errcheck
			return &connectedError{err: fmt.Errorf("read: %w", err)}
		}
		if !msg.IsControl() {
			logger.Warn().Src("camera").
				Msgf("unexpected envelope from recorder: %v", msg.Envelope.Tag())
			continue
		}

		var instruction Instruction
		switch msg.Control {
		case envelope.ControlStart:
			instruction = InstructionStartRecording
		case envelope.ControlStop:
			instruction = InstructionStopRecording
		default:
			continue
		}
		logger.Debug().Src("camera").Msgf("instruction: %v", instruction)
		if err := session.Send(sessionCtx, instruction); err != nil {
			return &connectedError{err: err}
		}
	}
}
