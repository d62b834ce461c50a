// SPDX-License-Identifier: GPL-2.0-or-later

// Package camera records segments on a camera node and streams them
// to the recorder.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EvanMerlock/sports-record/pkg/envelope"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
	"github.com/EvanMerlock/sports-record/pkg/preview"
)

// Instruction drives a session.
type Instruction uint8

// Instructions.
const (
	InstructionStartRecording Instruction = iota + 1
	InstructionStopRecording
	InstructionServerQuit
)

func (i Instruction) String() string {
	switch i {
	case InstructionStartRecording:
		return "start"
	case InstructionStopRecording:
		return "stop"
	case InstructionServerQuit:
		return "server quit"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(i))
	}
}

// SessionState state of a session.
type SessionState uint8

// Session states.
const (
	StateIdle SessionState = iota
	StateRecording
)

func (s SessionState) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Session errors.
var (
	ErrEncoderOpen      = errors.New("open encoder")
	ErrAlreadyRecording = errors.New("already recording")
	ErrSessionStopped   = errors.New("session stopped")
)

// Sender sends envelopes to the recorder.
type Sender interface {
	WriteEnvelope(envelope.Envelope) error
}

// PreviewSink receives encoded preview pictures.
type PreviewSink interface {
	Publish(preview.Frame) int
}

// SessionConfig session configuration.
type SessionConfig struct {
	Source            media.FrameSource
	NewStorageEncoder media.NewEncoderFunc

	// Preview is disabled if NewPreviewEncoder is nil.
	NewPreviewEncoder media.NewEncoderFunc
	PreviewConfig     media.StreamConfiguration
	Preview           PreviewSink

	Sender  Sender
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Session records segments on instruction from the recorder.
// Instructions are consumed by Run, one at a time.
type Session struct {
	c SessionConfig

	instructions chan Instruction
	done         chan struct{}

	// Owned by Run.
	worker *pipeline
	state  SessionState

	mu      sync.Mutex
	lastErr error
}

// NewSession returns an idle session.
func NewSession(c SessionConfig) *Session {
	return &Session{
		c:            c,
		instructions: make(chan Instruction, 8),
		done:         make(chan struct{}),
	}
}

// Send queues an instruction. Returns ErrSessionStopped after Run returned.
func (s *Session) Send(ctx context.Context, i Instruction) error {
	select {
	case <-s.done:
		return ErrSessionStopped
	default:
	}
	select {
	case s.instructions <- i:
		return nil
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the last start or segment error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) report(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.c.Logger.Error().Src("camera").Msg(err.Error())
}

// Run consumes instructions until ServerQuit or ctx is canceled.
// Neither waits for the segment to be flushed.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if s.worker != nil {
			<-s.worker.done
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case i := <-s.instructions:
			switch i {
			case InstructionStartRecording:
				if err := s.start(ctx); err != nil {
					s.report(err)
				}
			case InstructionStopRecording:
				if err := s.stop(); err != nil {
					s.report(err)
				}
			case InstructionServerQuit:
				s.c.Logger.Info().Src("camera").Msg("server quit")
				return
			}
		}
	}
}

// start opens fresh encoders and spawns the pipeline worker.
// The session stays idle on error.
func (s *Session) start(ctx context.Context) error {
	if s.state == StateRecording {
		select {
		case <-s.worker.done:
			// Stopped by an error.
			s.worker = nil
			s.state = StateIdle
		default:
			return ErrAlreadyRecording
		}
	}

	storage, err := s.c.NewStorageEncoder(s.c.Source.Configuration())
	if err != nil {
		return fmt.Errorf("%w: storage: %w", ErrEncoderOpen, err)
	}

	var previewEncoder media.Encoder
	if s.c.NewPreviewEncoder != nil {
		previewEncoder, err = s.c.NewPreviewEncoder(s.c.PreviewConfig)
		if err != nil {
			storage.Close()
			return fmt.Errorf("%w: preview: %w", ErrEncoderOpen, err)
		}
	}

	s.worker = newPipeline(s.c, storage, previewEncoder, s.report)
	s.state = StateRecording
	go s.worker.run(ctx)

	s.c.Logger.Info().Src("camera").Msg("recording started")
	return nil
}

// stop flushes the segment and joins the worker. No-op while idle.
func (s *Session) stop() error {
	if s.state != StateRecording {
		return nil
	}
	close(s.worker.stop)
	<-s.worker.done

	err := s.worker.err
	s.worker = nil
	s.state = StateIdle

	s.c.Logger.Info().Src("camera").Msg("recording stopped")
	return err
}

// pipeline is the worker of one segment.
type pipeline struct {
	c       SessionConfig
	storage media.Encoder
	preview media.Encoder
	onError func(error)

	stop chan struct{}
	done chan struct{}

	// Flush error, set before done is closed.
	err error
}

func newPipeline(c SessionConfig, storage, preview media.Encoder, onError func(error)) *pipeline {
	return &pipeline{
		c:       c,
		storage: storage,
		preview: preview,
		onError: onError,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer func() {
		p.storage.Close()
		if p.preview != nil {
			p.preview.Close()
		}
	}()

	var pts int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			p.err = p.flush()
			return
		default:
		}

		if err := p.encodeFrame(ctx, pts); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.onError(fmt.Errorf("segment stopped: %w", err))

			// The recorder finalizes the segment on the end of stream.
			p.c.Sender.WriteEnvelope(envelope.EndOfStream{}) //nolint:errcheck
			return
		}
		pts++
	}
}

func (p *pipeline) encodeFrame(ctx context.Context, pts int64) error {
	frame, err := p.c.Source.ReadFrame(ctx)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	packets, err := p.storage.Encode(frame, pts)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := p.send(packets); err != nil {
		return err
	}

	if p.preview != nil {
		previews, err := p.preview.Encode(frame, pts)
		if err != nil {
			// The preview is best effort, the segment continues without it.
			p.c.Logger.Warn().Src("camera").Msgf("preview disabled: %v", err)
			p.preview.Close()
			p.preview = nil
			return nil
		}
		for _, pkt := range previews {
			p.c.Preview.Publish(preview.Frame(pkt.Payload))
		}
	}
	return nil
}

func (p *pipeline) send(packets []media.Packet) error {
	if len(packets) == 0 {
		return nil
	}
	if err := p.c.Sender.WriteEnvelope(envelope.Packets(packets)); err != nil {
		return fmt.Errorf("send packets: %w", err)
	}
	p.c.Metrics.AddPacketsSent(len(packets))
	return nil
}

// flush drains the encoder and ends the segment.
func (p *pipeline) flush() error {
	packets, err := p.storage.Flush()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := p.send(packets); err != nil {
		return err
	}
	if err := p.c.Sender.WriteEnvelope(envelope.EndOfStream{}); err != nil {
		return fmt.Errorf("send end of stream: %w", err)
	}
	return nil
}
