// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/envelope"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
	"github.com/EvanMerlock/sports-record/pkg/transport"
)

// Conn connection to a camera node.
type Conn interface {
	ReadMessage() (transport.Message, error)
	WriteControl(envelope.Control) error
	RemoteAddr() string
	SetReadDeadline(time.Time) error
	Close() error
}

// worker serves one connection until Cleanup or disconnect.
type worker struct {
	ctx       context.Context
	addr      string
	conn      Conn
	handshake envelope.Handshake

	instructions chan Instruction
	receiver     *Receiver
	drainTimeout time.Duration
	metrics      *metrics.Metrics

	// Called from the worker goroutine after a disconnect.
	onDisconnect func(*worker)

	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	statusMu sync.Mutex
	state    State
	segment  string
}

// stop requests the worker to clean up. Safe to call multiple times.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// send delivers the instruction without blocking.
func (w *worker) send(i Instruction) bool {
	select {
	case w.instructions <- i:
		return true
	default:
		return false
	}
}

func (w *worker) status() (State, string) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.state, w.segment
}

func (w *worker) publish() {
	w.statusMu.Lock()
	w.state = w.receiver.State()
	w.segment = ""
	if seg := w.receiver.Segment(); seg != nil {
		w.segment = seg.ID
	}
	w.statusMu.Unlock()
}

func (w *worker) run() { //nolint:funlen
	defer close(w.done)
	logger := w.receiver.logger()

	msgs := make(chan transport.Message)
	exit := make(chan struct{})
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readErr <- w.readLoop(msgs, exit, logger)
	}()

	disconnected := false
	defer func() {
		close(exit)
		if err := w.receiver.Finalize(); err != nil {
			logger.Error().Msgf("cleanup: %v", err)
		}
		w.publish()
		w.conn.Close()
		<-readerDone
		if disconnected {
			w.onDisconnect(w)
		}
		logger.Info().Msg("worker stopped")
	}()

	var (
		drain       <-chan time.Time
		pending     *int64
		pendingStop bool

		// End of streams still owed for segments finalized by the drain timeout.
		staleEOS int
	)
	resume := func() {
		drain = nil
		if pending == nil {
			return
		}
		w.start(*pending, logger)
		pending = nil
		if pendingStop && w.receiver.State() == StateReceiving {
			w.receiver.Stop()
			drain = time.After(w.drainTimeout)
		}
		pendingStop = false
	}

	for {
		select {
		case <-w.quit:
			return

		case i := <-w.instructions:
			switch i.Kind {
			case KindStartRecording:
				if err := w.conn.WriteControl(envelope.ControlStart); err != nil {
					logger.Error().Msgf("send start: %v", err)
					disconnected = true
					return
				}
				if w.receiver.State() == StateFlushing {
					// The previous segment ends with the node's end of stream.
					play := i.Play
					pending, pendingStop = &play, false
					break
				}
				w.start(i.Play, logger)

			case KindStopRecording:
				if err := w.conn.WriteControl(envelope.ControlStop); err != nil {
					logger.Error().Msgf("send stop: %v", err)
					disconnected = true
					return
				}
				if pending != nil {
					pendingStop = true
				}
				if w.receiver.State() == StateReceiving {
					w.receiver.Stop()
					drain = time.After(w.drainTimeout)
				}

			case KindCleanup:
				return
			}
			w.publish()

		case msg := <-msgs:
			if msg.IsControl() {
				logger.Warn().Msgf("unexpected control from client: %v", msg.Control)
				continue
			}
			switch e := msg.Envelope.(type) {
			case envelope.Packets:
				if err := w.receiver.WritePackets(e); err != nil {
					logger.Error().Msgf("packets: %v", err)
				}
			case envelope.EndOfStream:
				if staleEOS > 0 {
					staleEOS--
					logger.Warn().Msg("dropped late end of stream")
					continue
				}
				if err := w.receiver.EndOfStream(); err != nil {
					logger.Error().Msgf("end of stream: %v", err)
				}
				resume()
			case envelope.Handshake:
				logger.Warn().Msg("dropped repeated handshake")
			}
			w.publish()

		case err := <-readErr:
			// Abrupt disconnect, stop and clean up.
			if !errors.Is(err, io.EOF) {
				logger.Error().Msgf("read: %v", err)
			} else {
				logger.Info().Msg("client disconnected")
			}
			disconnected = true
			return

		case <-drain:
			logger.Warn().Msgf("no end of stream within %v", w.drainTimeout)
			if err := w.receiver.Finalize(); err != nil {
				logger.Error().Msgf("finalize: %v", err)
			}
			staleEOS++
			resume()
			w.publish()
		}
	}
}

func (w *worker) start(play int64, logger *clientLogger) {
	if err := w.receiver.Start(w.ctx, play); err != nil {
		logger.Error().Msgf("start: %v", err)
	}
}

// readLoop forwards messages until the connection fails.
// Malformed messages are dropped.
func (w *worker) readLoop(msgs chan<- transport.Message, exit <-chan struct{}, logger *clientLogger) error {
	for {
		msg, err := w.conn.ReadMessage()
		if errors.Is(err, transport.ErrDecode) {
			logger.Warn().Msgf("dropped message: %v", err)
			w.metrics.IncMalformed()
			continue
		}
		if err != nil {
			return err
		}
		select {
		case msgs <- msg:
		case <-exit:
			return io.EOF
		}
	}
}
