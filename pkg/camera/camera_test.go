// SPDX-License-Identifier: GPL-2.0-or-later

package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/envelope"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
	"github.com/EvanMerlock/sports-record/pkg/preview"
	"github.com/EvanMerlock/sports-record/pkg/transport"

	"github.com/stretchr/testify/require"
)

var testConfig = media.StreamConfiguration{
	Height:      480,
	Width:       640,
	GopSize:     10,
	MaxBFrames:  1,
	PixelFormat: media.PixelFormatYUV420P,
	CodecID:     media.CodecH264,
	TimeBase:    media.NewRational(1, 30),
}

type fakeFrame struct{}

func (fakeFrame) Width() int  { return testConfig.Width }
func (fakeFrame) Height() int { return testConfig.Height }

type fakeSource struct{}

func (fakeSource) ReadFrame(ctx context.Context) (media.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return fakeFrame{}, nil
	}
}

func (fakeSource) Configuration() media.StreamConfiguration { return testConfig }

var errEncode = errors.New("mock encode error")

// fakeEncoder delays every packet by one frame.
type fakeEncoder struct {
	held   *media.Packet
	failAt int64
	closed atomic.Bool
}

func (e *fakeEncoder) Encode(_ media.Frame, pts int64) ([]media.Packet, error) {
	if pts == e.failAt {
		return nil, errEncode
	}
	pkt := media.Packet{Payload: []byte{byte(pts)}, PTS: pts, DTS: pts, Key: pts == 0}
	prev := e.held
	e.held = &pkt
	if prev == nil {
		return nil, nil
	}
	return []media.Packet{*prev}, nil
}

func (e *fakeEncoder) Flush() ([]media.Packet, error) {
	if e.held == nil {
		return nil, nil
	}
	pkt := *e.held
	e.held = nil
	return []media.Packet{pkt}, nil
}

func (e *fakeEncoder) TimeBase() media.Rational { return testConfig.TimeBase }

func (e *fakeEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeEncoders struct {
	mu       sync.Mutex
	encoders []*fakeEncoder
	err      error
	failAt   int64
}

func newFakeEncoders() *fakeEncoders {
	return &fakeEncoders{failAt: -1}
}

func (f *fakeEncoders) new(media.StreamConfiguration) (media.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEncoder{failAt: f.failAt}
	f.encoders = append(f.encoders, e)
	return e, nil
}

func (f *fakeEncoders) fail(err error, failAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.failAt = failAt
}

func (f *fakeEncoders) get(i int) *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoders[i]
}

func (f *fakeEncoders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encoders)
}

type fakeSender struct {
	mu        sync.Mutex
	envelopes []envelope.Envelope
}

func (s *fakeSender) WriteEnvelope(e envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, e)
	return nil
}

func (s *fakeSender) sent() []envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]envelope.Envelope(nil), s.envelopes...)
}

func (s *fakeSender) packets() []media.Packet {
	var packets []media.Packet
	for _, e := range s.sent() {
		if p, ok := e.(envelope.Packets); ok {
			packets = append(packets, p...)
		}
	}
	return packets
}

func (s *fakeSender) ends() int {
	n := 0
	for _, e := range s.sent() {
		if _, ok := e.(envelope.EndOfStream); ok {
			n++
		}
	}
	return n
}

type fakeSink struct {
	frames atomic.Int32
}

func (s *fakeSink) Publish(preview.Frame) int {
	s.frames.Add(1)
	return 1
}

type testSession struct {
	*Session
	storage *fakeEncoders
	preview *fakeEncoders
	sender  *fakeSender
	sink    *fakeSink
	done    chan struct{}
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()
	s := &testSession{
		storage: newFakeEncoders(),
		preview: newFakeEncoders(),
		sender:  &fakeSender{},
		sink:    &fakeSink{},
		done:    make(chan struct{}),
	}
	previewConfig, err := PreviewConfig(testConfig, media.CodecMJPEG, 320)
	require.NoError(t, err)

	s.Session = NewSession(SessionConfig{
		Source:            fakeSource{},
		NewStorageEncoder: s.storage.new,
		NewPreviewEncoder: s.preview.new,
		PreviewConfig:     previewConfig,
		Preview:           s.sink,
		Sender:            s.sender,
		Metrics:           metrics.New(),
		Logger:            log.NewMockLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s.Run(ctx)
		close(s.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-s.done
	})
	return s
}

func (s *testSession) send(t *testing.T, i Instruction) {
	t.Helper()
	require.NoError(t, s.Send(context.Background(), i))
}

func requireContinuous(t *testing.T, packets []media.Packet) {
	t.Helper()
	for i, p := range packets {
		require.Equal(t, int64(i), p.PTS)
	}
}

func TestSessionStartStop(t *testing.T) {
	s := newTestSession(t)

	s.send(t, InstructionStartRecording)
	require.Eventually(t, func() bool {
		return len(s.sender.packets()) >= 3
	}, 5*time.Second, time.Millisecond)

	s.send(t, InstructionStopRecording)
	require.Eventually(t, func() bool {
		return s.sender.ends() == 1
	}, 5*time.Second, time.Millisecond)

	sent := s.sender.sent()
	require.Equal(t, envelope.EndOfStream{}, sent[len(sent)-1])

	// The flushed packet is included.
	packets := s.sender.packets()
	requireContinuous(t, packets)
	require.True(t, packets[0].Key)

	require.Eventually(t, func() bool {
		return s.storage.get(0).closed.Load() && s.preview.get(0).closed.Load()
	}, 5*time.Second, time.Millisecond)
	require.Positive(t, s.sink.frames.Load())
	require.NoError(t, s.Err())

	// Fresh encoders for the next segment, pts starts over.
	s.send(t, InstructionStartRecording)
	s.send(t, InstructionStopRecording)
	require.Eventually(t, func() bool {
		return s.sender.ends() == 2
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 2, s.storage.count())
}

func TestSessionStopIdle(t *testing.T) {
	s := newTestSession(t)
	s.send(t, InstructionStopRecording)
	s.send(t, InstructionStartRecording)
	s.send(t, InstructionStopRecording)

	require.Eventually(t, func() bool {
		return s.sender.ends() == 1
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, s.storage.count())
}

func TestSessionEncoderOpen(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		s := newTestSession(t)
		s.storage.fail(errEncode, -1)

		s.send(t, InstructionStartRecording)
		require.Eventually(t, func() bool {
			return errors.Is(s.Err(), ErrEncoderOpen)
		}, 5*time.Second, time.Millisecond)
		require.ErrorIs(t, s.Err(), errEncode)

		// Still idle.
		s.send(t, InstructionStopRecording)
		s.send(t, InstructionServerQuit)
		<-s.done
		require.Empty(t, s.sender.sent())
	})
	t.Run("preview", func(t *testing.T) {
		s := newTestSession(t)
		s.preview.fail(errEncode, -1)

		s.send(t, InstructionStartRecording)
		require.Eventually(t, func() bool {
			return errors.Is(s.Err(), ErrEncoderOpen)
		}, 5*time.Second, time.Millisecond)
		require.Eventually(t, func() bool {
			return s.storage.get(0).closed.Load()
		}, 5*time.Second, time.Millisecond)
	})
}

func TestSessionEncodeError(t *testing.T) {
	s := newTestSession(t)
	s.storage.fail(nil, 3)

	s.send(t, InstructionStartRecording)
	require.Eventually(t, func() bool {
		return errors.Is(s.Err(), errEncode)
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return s.sender.ends() == 1
	}, 5*time.Second, time.Millisecond)
	requireContinuous(t, s.sender.packets())

	// The stop of the failed segment sends nothing.
	s.send(t, InstructionStopRecording)

	// Recovers on the next start.
	s.storage.fail(nil, -1)
	s.send(t, InstructionStartRecording)
	s.send(t, InstructionStopRecording)
	require.Eventually(t, func() bool {
		return s.sender.ends() == 2
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 2, s.storage.count())
}

type failingPreview struct {
	fakeEncoder
}

func (e *failingPreview) Encode(media.Frame, int64) ([]media.Packet, error) {
	return nil, errEncode
}

func TestSessionPreviewError(t *testing.T) {
	p := &failingPreview{}
	sender := &fakeSender{}
	sink := &fakeSink{}
	s := NewSession(SessionConfig{
		Source:            fakeSource{},
		NewStorageEncoder: newFakeEncoders().new,
		NewPreviewEncoder: func(media.StreamConfiguration) (media.Encoder, error) {
			return p, nil
		},
		Preview: sink,
		Sender:  sender,
		Metrics: metrics.New(),
		Logger:  log.NewMockLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.NoError(t, s.Send(ctx, InstructionStartRecording))
	require.Eventually(t, func() bool {
		return len(sender.packets()) >= 3
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, s.Send(ctx, InstructionStopRecording))
	require.Eventually(t, func() bool {
		return sender.ends() == 1
	}, 5*time.Second, time.Millisecond)

	require.True(t, p.closed.Load())
	require.Zero(t, sink.frames.Load())
	require.NoError(t, s.Err())
}

func TestSessionServerQuit(t *testing.T) {
	s := newTestSession(t)

	s.send(t, InstructionStartRecording)
	require.Eventually(t, func() bool {
		return len(s.sender.packets()) >= 1
	}, 5*time.Second, time.Millisecond)

	s.send(t, InstructionServerQuit)
	<-s.done

	// No flush.
	require.Zero(t, s.sender.ends())
	require.True(t, s.storage.get(0).closed.Load())
	require.ErrorIs(t, s.Send(context.Background(), InstructionStartRecording), ErrSessionStopped)
}

func TestSessionSendAfterQuit(t *testing.T) {
	// Send must never queue an instruction on a stopped session.
	for i := 0; i < 100; i++ {
		s := newTestSession(t)
		s.send(t, InstructionServerQuit)
		<-s.done
		for j := 0; j < 10; j++ {
			err := s.Send(context.Background(), InstructionStartRecording)
			require.ErrorIs(t, err, ErrSessionStopped)
		}
	}
}

func TestPreviewConfig(t *testing.T) {
	c, err := PreviewConfig(testConfig, media.CodecMJPEG, 320)
	require.NoError(t, err)
	require.Equal(t, media.StreamConfiguration{
		Height:      240,
		Width:       320,
		GopSize:     1,
		MaxBFrames:  0,
		PixelFormat: media.PixelFormatYUVJ420P,
		CodecID:     media.CodecMJPEG,
		TimeBase:    testConfig.TimeBase,
	}, c)

	c, err = PreviewConfig(testConfig, media.CodecPNG, 0)
	require.NoError(t, err)
	require.Equal(t, media.PixelFormatRGB24, c.PixelFormat)
	require.Equal(t, 640, c.Width)
	require.Equal(t, 480, c.Height)

	c, err = PreviewConfig(testConfig, media.CodecMJPEG, 333)
	require.NoError(t, err)
	require.Equal(t, 332, c.Width)
	require.Equal(t, 248, c.Height)

	_, err = PreviewConfig(testConfig, media.CodecH264, 320)
	require.ErrorIs(t, err, ErrPreviewCodec)
	require.ErrorIs(t, err, media.ErrInvalidConfiguration)
}

type readResult struct {
	msg transport.Message
	err error
}

type fakeConn struct {
	*fakeSender
	in        chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		fakeSender: &fakeSender{},
		in:         make(chan readResult, 16),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (transport.Message, error) {
	select {
	case r := <-c.in:
		return r.msg, r.err
	case <-c.closed:
		return transport.Message{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) control(control envelope.Control) {
	c.in <- readResult{msg: transport.Message{Control: control}}
}

type fakeDialer struct {
	conns    chan *fakeConn
	failures atomic.Int32
}

func (d *fakeDialer) dial(context.Context, string) (Conn, error) {
	if d.failures.Add(-1) >= 0 {
		return nil, errors.New("mock dial error")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

func newTestNode(t *testing.T, failures int32) *fakeDialer {
	t.Helper()
	d := &fakeDialer{conns: make(chan *fakeConn, 4)}
	d.failures.Store(failures)

	n := NewNode(NodeConfig{
		URL:            "ws://127.0.0.1:8000/record",
		PreviewAddress: ":4000",
		Session: SessionConfig{
			Source:            fakeSource{},
			NewStorageEncoder: newFakeEncoders().new,
			Metrics:           metrics.New(),
			Logger:            log.NewMockLogger(),
		},
		Dial:       d.dial,
		MinBackoff: time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func requireHandshake(t *testing.T, c *fakeConn) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.sent()) >= 1
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, envelope.Handshake{
		StreamConfiguration: testConfig,
		PreviewAddress:      ":4000",
	}, c.sent()[0])
}

func TestNode(t *testing.T) {
	d := newTestNode(t, 0)

	c := d.next(t)
	requireHandshake(t, c)

	c.in <- readResult{err: fmt.Errorf("%w: bad frame", transport.ErrDecode)}
	c.control(envelope.ControlStart)
	require.Eventually(t, func() bool {
		return len(c.packets()) >= 2
	}, 5*time.Second, time.Millisecond)

	c.control(envelope.ControlStop)
	require.Eventually(t, func() bool {
		return c.ends() == 1
	}, 5*time.Second, time.Millisecond)
	requireContinuous(t, c.packets())

	// Reconnects with a new handshake.
	c.Close()
	c2 := d.next(t)
	requireHandshake(t, c2)
}

func TestNodeDialRetry(t *testing.T) {
	d := newTestNode(t, 3)
	c := d.next(t)
	requireHandshake(t, c)
	require.Negative(t, d.failures.Load())
}
