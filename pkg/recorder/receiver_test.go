// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/EvanMerlock/sports-record/pkg/ledger"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/metrics"

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

type fakeMuxer struct {
	path     string
	timeBase media.Rational
	calls    []string
	packets  []media.Packet
	writeErr error
}

func (m *fakeMuxer) WriteHeader() error {
	m.calls = append(m.calls, "header")
	return nil
}

func (m *fakeMuxer) TimeBase() media.Rational { return m.timeBase }

func (m *fakeMuxer) WritePacket(p media.Packet) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.calls = append(m.calls, "packet")
	m.packets = append(m.packets, p)
	return nil
}

func (m *fakeMuxer) Flush() error {
	m.calls = append(m.calls, "flush")
	return nil
}

func (m *fakeMuxer) WriteTrailer() error {
	m.calls = append(m.calls, "trailer")
	return nil
}

func (m *fakeMuxer) Close() error {
	m.calls = append(m.calls, "close")
	return nil
}

type fakeMuxers struct {
	timeBase  media.Rational
	createErr error
	muxers    []*fakeMuxer
}

func (f *fakeMuxers) newMuxer(path string, c media.StreamConfiguration) (media.Muxer, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	tb := f.timeBase
	if !tb.Valid() {
		tb = c.TimeBase
	}
	m := &fakeMuxer{path: path, timeBase: tb}
	f.muxers = append(f.muxers, m)
	return m, nil
}

type fakeStorage struct {
	mu sync.Mutex
	n  int
}

func (s *fakeStorage) NewSegmentPath(ext string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	id := fmt.Sprintf("%032d", s.n)
	return id, "/out/video_" + id + "." + ext, nil
}

type fakeLedger struct {
	mu    sync.Mutex
	clips []string
	err   error
}

func (l *fakeLedger) InsertClip(_ context.Context, uuid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.clips = append(l.clips, uuid)
	return nil
}

func (l *fakeLedger) clip(i int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clips[i]
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clips)
}

func newTestReceiver(muxers *fakeMuxers, l ClipLedger) *Receiver {
	return NewReceiver(ReceiverConfig{
		Addr:      "10.0.0.2:5000",
		Stream:    testConfig,
		Extension: "mp4",
		NewMuxer:  muxers.newMuxer,
		Storage:   &fakeStorage{},
		Ledger:    l,
		Metrics:   metrics.New(),
		Logger:    log.NewMockLogger(),
	})
}

func TestReceiverLifecycle(t *testing.T) {
	muxers := &fakeMuxers{}
	l := &fakeLedger{}
	r := newTestReceiver(muxers, l)
	ctx := context.Background()

	require.Equal(t, StateAwaitingStart, r.State())
	require.NoError(t, r.Start(ctx, 1))
	require.Equal(t, StateReceiving, r.State())

	seg := r.Segment()
	require.NotNil(t, seg)
	require.Equal(t, int64(1), seg.Play)
	require.Equal(t, "/out/video_"+seg.ID+".mp4", seg.Path)
	require.Equal(t, []string{seg.ID}, l.clips)

	for pts := int64(0); pts < 3; pts++ {
		packets := []media.Packet{{Payload: []byte{byte(pts)}, PTS: pts, DTS: pts}}
		require.NoError(t, r.WritePackets(packets))
	}

	r.Stop()
	require.Equal(t, StateFlushing, r.State())

	// Packets drained after stop still belong to the segment.
	require.NoError(t, r.WritePackets([]media.Packet{{PTS: 3, DTS: 3}}))
	require.NoError(t, r.EndOfStream())
	require.Equal(t, StateAwaitingStart, r.State())
	require.Nil(t, r.Segment())

	require.Len(t, muxers.muxers, 1)
	expected := []string{"header", "packet", "packet", "packet", "packet", "flush", "trailer", "close"}
	require.Equal(t, expected, muxers.muxers[0].calls)
}

func TestReceiverRescale(t *testing.T) {
	muxers := &fakeMuxers{timeBase: media.NewRational(1, 90)}
	r := newTestReceiver(muxers, &fakeLedger{})

	require.NoError(t, r.Start(context.Background(), 1))
	packets := []media.Packet{
		{PTS: 0, DTS: 0},
		{PTS: 30, DTS: 29},
		{PTS: media.NoPTS, DTS: 31},
	}
	require.NoError(t, r.WritePackets(packets))

	actual := muxers.muxers[0].packets
	require.Equal(t, []media.Packet{
		{PTS: 0, DTS: 0},
		{PTS: 90, DTS: 87},
		{PTS: media.NoPTS, DTS: 93},
	}, actual)

	// The caller's packets are not modified.
	require.Equal(t, int64(30), packets[1].PTS)
}

func TestReceiverFinalizeOnce(t *testing.T) {
	t.Run("endOfStream", func(t *testing.T) {
		muxers := &fakeMuxers{}
		r := newTestReceiver(muxers, &fakeLedger{})

		require.NoError(t, r.Start(context.Background(), 1))
		require.NoError(t, r.EndOfStream())
		require.ErrorIs(t, r.EndOfStream(), ErrNoSegment)
		require.NoError(t, r.Finalize())

		require.Equal(t, []string{"header", "flush", "trailer", "close"}, muxers.muxers[0].calls)
	})
	t.Run("finalize", func(t *testing.T) {
		muxers := &fakeMuxers{}
		r := newTestReceiver(muxers, &fakeLedger{})

		require.NoError(t, r.Start(context.Background(), 1))
		r.Stop()
		require.NoError(t, r.Finalize())
		require.NoError(t, r.Finalize())
		require.ErrorIs(t, r.EndOfStream(), ErrNoSegment)

		require.Equal(t, []string{"header", "flush", "trailer", "close"}, muxers.muxers[0].calls)
	})
}

func TestReceiverDesync(t *testing.T) {
	muxers := &fakeMuxers{}
	r := newTestReceiver(muxers, &fakeLedger{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, 1))
	first := r.Segment().ID

	err := r.Start(ctx, 2)
	require.ErrorIs(t, err, ErrSegmentOpen)

	// The stale segment is finalized and the new one is open.
	require.Len(t, muxers.muxers, 2)
	require.Equal(t, []string{"header", "flush", "trailer", "close"}, muxers.muxers[0].calls)
	require.Equal(t, StateReceiving, r.State())
	require.Equal(t, int64(2), r.Segment().Play)
	require.NotEqual(t, first, r.Segment().ID)
}

func TestReceiverStartWhileFlushing(t *testing.T) {
	muxers := &fakeMuxers{}
	r := newTestReceiver(muxers, &fakeLedger{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, 1))
	r.Stop()
	require.NoError(t, r.Start(ctx, 2))
	require.Len(t, muxers.muxers, 2)
	require.Equal(t, StateReceiving, r.State())
}

func TestReceiverNoSegment(t *testing.T) {
	r := newTestReceiver(&fakeMuxers{}, &fakeLedger{})

	r.Stop()
	require.Equal(t, StateAwaitingStart, r.State())
	require.ErrorIs(t, r.WritePackets([]media.Packet{{}}), ErrNoSegment)
	require.ErrorIs(t, r.EndOfStream(), ErrNoSegment)
	require.NoError(t, r.Finalize())
}

func TestReceiverErrors(t *testing.T) {
	t.Run("clipWithoutPlay", func(t *testing.T) {
		muxers := &fakeMuxers{}
		r := newTestReceiver(muxers, &fakeLedger{err: ledger.ErrNoPlay})

		require.NoError(t, r.Start(context.Background(), 1))
		require.Equal(t, StateReceiving, r.State())
		require.NoError(t, r.WritePackets([]media.Packet{{}}))
	})
	t.Run("createMuxer", func(t *testing.T) {
		errCreate := errors.New("mock")
		r := newTestReceiver(&fakeMuxers{createErr: errCreate}, &fakeLedger{})

		require.ErrorIs(t, r.Start(context.Background(), 1), errCreate)
		require.Equal(t, StateAwaitingStart, r.State())
	})
	t.Run("writePacket", func(t *testing.T) {
		muxers := &fakeMuxers{}
		r := newTestReceiver(muxers, &fakeLedger{})
		require.NoError(t, r.Start(context.Background(), 1))

		errWrite := &media.CodecError{Op: "write frame", Code: -22, Err: errors.New("mock")}
		muxers.muxers[0].writeErr = errWrite

		err := r.WritePackets([]media.Packet{{}})
		var codecErr *media.CodecError
		require.ErrorAs(t, err, &codecErr)
		require.Equal(t, -22, codecErr.Code)

		// Fatal to the segment only.
		require.Equal(t, StateAwaitingStart, r.State())
		require.Equal(t, []string{"header", "flush", "trailer", "close"}, muxers.muxers[0].calls)
		require.NoError(t, r.Start(context.Background(), 2))
	})
}
