// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
)

// State of a segment receiver.
type State uint8

// Receiver states.
const (
	StateAwaitingStart State = iota
	StateReceiving
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting start"
	case StateReceiving:
		return "receiving"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Receiver errors.
var (
	ErrSegmentOpen = errors.New("segment already open")
	ErrNoSegment   = errors.New("no segment open")
)

// SegmentAllocator allocates segment ids and file paths.
type SegmentAllocator interface {
	NewSegmentPath(ext string) (id string, path string, err error)
}

// ClipLedger records clips of the open play.
type ClipLedger interface {
	InsertClip(ctx context.Context, uuid string) error
}

// ReceiverConfig dependencies of a receiver.
type ReceiverConfig struct {
	// Peer address, used for logging.
	Addr string

	// Negotiated configuration of the connection.
	Stream media.StreamConfiguration

	Extension string
	NewMuxer  media.NewMuxerFunc
	Storage   SegmentAllocator
	Ledger    ClipLedger
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// Segment one Start..Stop recording interval of a single node.
type Segment struct {
	ID      string
	Path    string
	Play    int64
	Packets int

	muxer    media.Muxer
	timeBase media.Rational
}

// Receiver muxes the packet stream of one connection into segment files.
// Owned by a single worker goroutine, it is not safe for concurrent use.
type Receiver struct {
	c ReceiverConfig

	state State
	seg   *Segment
}

// NewReceiver returns a receiver awaiting start.
func NewReceiver(c ReceiverConfig) *Receiver {
	return &Receiver{c: c}
}

// State returns the current state.
func (r *Receiver) State() State {
	return r.state
}

// Segment returns the open segment or nil.
func (r *Receiver) Segment() *Segment {
	return r.seg
}

// Start opens a new segment for play. If a segment is still receiving
// it is finalized first and the returned error wraps ErrSegmentOpen,
// the new segment is opened regardless.
func (r *Receiver) Start(ctx context.Context, play int64) error {
	var desync error
	if r.state != StateAwaitingStart {
		if r.state == StateReceiving {
			desync = fmt.Errorf("%w: %v", ErrSegmentOpen, r.seg.ID)
		}
		if err := r.Finalize(); err != nil {
			r.logger().Error().Msgf("finalize stale segment: %v", err)
		}
	}

	if err := r.open(ctx, play); err != nil {
		return errors.Join(desync, err)
	}
	return desync
}

func (r *Receiver) open(ctx context.Context, play int64) error {
	id, path, err := r.c.Storage.NewSegmentPath(r.c.Extension)
	if err != nil {
		return fmt.Errorf("allocate segment: %w", err)
	}

	muxer, err := r.c.NewMuxer(path, r.c.Stream)
	if err != nil {
		return fmt.Errorf("create muxer: %w", err)
	}
	if err := muxer.WriteHeader(); err != nil {
		muxer.Close()
		return fmt.Errorf("write header: %w", err)
	}

	r.seg = &Segment{
		ID:       id,
		Path:     path,
		Play:     play,
		muxer:    muxer,
		timeBase: muxer.TimeBase(),
	}
	r.state = StateReceiving
	r.c.Metrics.IncSegmentsOpened()
	r.logger().Info().Msgf("segment %v opened: %v", id, path)

	// The segment is recorded even if the ledger rejects the clip.
	if err := r.c.Ledger.InsertClip(ctx, id); err != nil {
		r.logger().Error().Msgf("insert clip: %v", err)
	}
	return nil
}

// Stop marks the open segment as flushing, it is finalized by the
// end of stream. No-op without an open segment.
func (r *Receiver) Stop() {
	if r.state == StateReceiving {
		r.state = StateFlushing
	}
}

// WritePackets rescales and muxes the packets in order. A mux error
// finalizes the segment.
func (r *Receiver) WritePackets(packets []media.Packet) error {
	if r.state == StateAwaitingStart {
		return fmt.Errorf("%w: dropped %d packets", ErrNoSegment, len(packets))
	}

	for _, p := range packets {
		media.RescalePacket(&p, r.c.Stream.TimeBase, r.seg.timeBase)
		if err := r.seg.muxer.WritePacket(p); err != nil {
			err = fmt.Errorf("segment %v: write packet: %w", r.seg.ID, err)
			return errors.Join(err, r.Finalize())
		}
		r.seg.Packets++
		r.c.Metrics.AddMuxed(len(p.Payload))
	}
	return nil
}

// EndOfStream finalizes the open segment.
func (r *Receiver) EndOfStream() error {
	if r.state == StateAwaitingStart {
		return fmt.Errorf("%w: unexpected end of stream", ErrNoSegment)
	}
	return r.Finalize()
}

// Finalize writes the null frame and the trailer, then closes the file.
// Returns to awaiting start. No-op without an open segment.
func (r *Receiver) Finalize() error {
	seg := r.seg
	if seg == nil {
		return nil
	}
	r.seg = nil
	r.state = StateAwaitingStart

	var errs []error
	if err := seg.muxer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := seg.muxer.WriteTrailer(); err != nil {
		errs = append(errs, fmt.Errorf("write trailer: %w", err))
	}
	if err := seg.muxer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	r.c.Metrics.IncSegmentsFinalized()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("finalize segment %v: %w", seg.ID, err)
	}
	r.logger().Info().Msgf("segment %v finalized with %d packets", seg.ID, seg.Packets)
	return nil
}

func (r *Receiver) logger() *clientLogger {
	return &clientLogger{logger: r.c.Logger, addr: r.c.Addr}
}

// clientLogger tags events with the source and the peer address.
type clientLogger struct {
	logger *log.Logger
	addr   string
}

func (l *clientLogger) Error() *log.Event {
	return l.logger.Error().Src("recorder").Client(l.addr)
}

func (l *clientLogger) Warn() *log.Event {
	return l.logger.Warn().Src("recorder").Client(l.addr)
}

func (l *clientLogger) Info() *log.Event {
	return l.logger.Info().Src("recorder").Client(l.addr)
}
