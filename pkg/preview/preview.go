// SPDX-License-Identifier: GPL-2.0-or-later

// Package preview fans encoded preview pictures out to live viewers.
package preview

import (
	"sync"

	"github.com/EvanMerlock/sports-record/pkg/metrics"
)

const feedSize = 4

// Frame one encoded preview picture, a complete still image.
type Frame []byte

// CancelFunc cancels a subscription.
type CancelFunc func()

// Broadcaster sends every published frame to every subscriber.
// Publish never blocks, slow subscribers miss frames.
type Broadcaster struct {
	subs   map[chan Frame]struct{}
	closed bool
	mu     sync.Mutex

	metrics *metrics.Metrics
}

// NewBroadcaster returns a new broadcaster.
func NewBroadcaster(m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[chan Frame]struct{}),
		metrics: m,
	}
}

// Subscribe returns a feed of frames. The feed is closed
// on cancel or when the broadcaster is closed.
func (b *Broadcaster) Subscribe() (<-chan Frame, CancelFunc) {
	feed := make(chan Frame, feedSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(feed)
		return feed, func() {}
	}
	b.subs[feed] = struct{}{}

	return feed, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, exists := b.subs[feed]; exists {
			delete(b.subs, feed)
			close(feed)
		}
	}
}

// Publish sends the frame to the subscribers and returns how many it reached.
func (b *Broadcaster) Publish(frame Frame) int {
	b.metrics.IncPreviewFrames()

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for feed := range b.subs {
		select {
		case feed <- frame:
			delivered++
		default:
			b.metrics.IncPreviewFramesDropped()
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every feed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for feed := range b.subs {
		close(feed)
	}
	b.subs = nil
}
