// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/envelope"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
)

// Registry errors.
var (
	ErrProtocol          = errors.New("protocol error")
	ErrAlreadyRegistered = errors.New("client already registered")
	ErrClientNotExist    = errors.New("client does not exist")
	ErrRegistryClosed    = errors.New("registry closed")
)

const (
	defaultInstructionBuffer = 8
	defaultDrainTimeout      = 10 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
)

// RegistryConfig registry configuration.
type RegistryConfig struct {
	// Segment file extension, selects the container.
	Extension string
	NewMuxer  media.NewMuxerFunc
	Storage   SegmentAllocator
	Ledger    ClipLedger
	Metrics   *metrics.Metrics
	Logger    *log.Logger

	// Per worker instruction channel capacity.
	InstructionBuffer int

	// How long a stopped segment waits for the node's end of stream.
	DrainTimeout time.Duration

	// How long a new connection may take to send its handshake.
	HandshakeTimeout time.Duration
}

// ClientInfo status of a registered client.
type ClientInfo struct {
	Addr           string                    `json:"addr"`
	PreviewAddress string                    `json:"previewAddress,omitempty"`
	Stream         media.StreamConfiguration `json:"stream"`
	State          string                    `json:"state"`
	Segment        string                    `json:"segment,omitempty"`
}

// Registry tracks one worker per connected camera node.
type Registry struct {
	ctx context.Context
	c   RegistryConfig

	// Workers in registration order.
	workers []*worker
	closed  bool
	mu      sync.Mutex
}

// NewRegistry returns a new registry. ctx is used for ledger calls.
func NewRegistry(ctx context.Context, c RegistryConfig) *Registry {
	if c.InstructionBuffer <= 0 {
		c.InstructionBuffer = defaultInstructionBuffer
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Registry{ctx: ctx, c: c}
}

// Register reads the handshake and starts a worker for the connection.
// The connection is closed on error.
func (r *Registry) Register(conn Conn) error {
	addr := conn.RemoteAddr()

	handshake, err := readHandshake(conn, r.c.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return fmt.Errorf("register %v: %w", addr, err)
	}

	w := &worker{
		ctx:          r.ctx,
		addr:         addr,
		conn:         conn,
		handshake:    handshake,
		instructions: make(chan Instruction, r.c.InstructionBuffer),
		receiver: NewReceiver(ReceiverConfig{
			Addr:      addr,
			Stream:    handshake.StreamConfiguration,
			Extension: r.c.Extension,
			NewMuxer:  r.c.NewMuxer,
			Storage:   r.c.Storage,
			Ledger:    r.c.Ledger,
			Metrics:   r.c.Metrics,
			Logger:    r.c.Logger,
		}),
		drainTimeout: r.c.DrainTimeout,
		metrics:      r.c.Metrics,
		onDisconnect: r.remove,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return ErrRegistryClosed
	}
	for _, existing := range r.workers {
		if existing.addr == addr {
			r.mu.Unlock()
			conn.Close()
			return fmt.Errorf("%w: %v", ErrAlreadyRegistered, addr)
		}
	}
	r.workers = append(r.workers, w)
	r.c.Metrics.SetConnectedClients(len(r.workers))
	r.mu.Unlock()

	go w.run()

	r.c.Logger.Info().Src("recorder").Client(addr).
		Msgf("registered: %v", handshake.StreamConfiguration)
	return nil
}

func readHandshake(conn Conn, timeout time.Duration) (envelope.Handshake, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return envelope.Handshake{}, fmt.Errorf("set handshake deadline: %w", err)
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		return envelope.Handshake{}, fmt.Errorf("%w: read handshake: %v", ErrProtocol, err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return envelope.Handshake{}, fmt.Errorf("clear handshake deadline: %w", err)
	}
	if msg.IsControl() {
		return envelope.Handshake{}, fmt.Errorf("%w: expected handshake, got %v", ErrProtocol, msg.Control)
	}
	handshake, ok := msg.Envelope.(envelope.Handshake)
	if !ok {
		return envelope.Handshake{}, fmt.Errorf(
			"%w: expected handshake, got %v", ErrProtocol, msg.Envelope.Tag())
	}
	if err := handshake.StreamConfiguration.Validate(); err != nil {
		return envelope.Handshake{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return handshake, nil
}

// Deregister removes the client and waits for its worker to clean up.
func (r *Registry) Deregister(addr string) error {
	r.mu.Lock()
	w := r.take(addr)
	r.mu.Unlock()

	if w == nil {
		return fmt.Errorf("%w: %v", ErrClientNotExist, addr)
	}
	w.stop()
	<-w.done
	r.c.Logger.Info().Src("recorder").Client(addr).Msg("deregistered")
	return nil
}

// remove is called by a worker after a disconnect.
func (r *Registry) remove(w *worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.workers {
		if existing == w {
			r.workers = append(r.workers[:i], r.workers[i+1:]...)
			r.c.Metrics.SetConnectedClients(len(r.workers))
			return
		}
	}
}

// take removes and returns the worker for addr. Caller must hold the lock.
func (r *Registry) take(addr string) *worker {
	for i, w := range r.workers {
		if w.addr == addr {
			r.workers = append(r.workers[:i], r.workers[i+1:]...)
			r.c.Metrics.SetConnectedClients(len(r.workers))
			return w
		}
	}
	return nil
}

// Broadcast sends the instruction to every worker in registration order.
// A worker with a full channel is skipped. Returns the number of
// workers the instruction was delivered to. Cleanup removes every worker.
func (r *Registry) Broadcast(i Instruction) int {
	if i.Kind == KindCleanup {
		return r.cleanup(false)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, w := range r.workers {
		if w.send(i) {
			delivered++
			continue
		}
		r.c.Metrics.IncDroppedInstructions()
		r.c.Logger.Error().Src("recorder").Client(w.addr).
			Msgf("worker busy, dropped instruction: %v", i)
	}
	return delivered
}

// Cleanup stops every worker and waits for them to finalize.
// Safe to call multiple times.
func (r *Registry) Cleanup() {
	r.cleanup(false)
}

// Close cleans up and rejects new connections.
func (r *Registry) Close() {
	r.cleanup(true)
}

func (r *Registry) cleanup(reject bool) int {
	r.mu.Lock()
	if reject {
		r.closed = true
	}
	workers := r.workers
	r.workers = nil
	r.c.Metrics.SetConnectedClients(0)
	r.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	for _, w := range workers {
		<-w.done
	}
	return len(workers)
}

// Clients returns the registered clients in registration order.
func (r *Registry) Clients() []ClientInfo {
	r.mu.Lock()
	workers := make([]*worker, len(r.workers))
	copy(workers, r.workers)
	r.mu.Unlock()

	clients := make([]ClientInfo, 0, len(workers))
	for _, w := range workers {
		state, segment := w.status()
		clients = append(clients, ClientInfo{
			Addr:           w.addr,
			PreviewAddress: w.handshake.PreviewAddress,
			Stream:         w.handshake.StreamConfiguration,
			State:          state.String(),
			Segment:        segment,
		})
	}
	return clients
}
