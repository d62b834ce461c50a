// SPDX-License-Identifier: GPL-2.0-or-later

// Package recorder receives the streams of the camera nodes and muxes
// every Start..Stop interval of every node into its own segment file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/transport"
)

// PlayLedger opens and closes plays.
type PlayLedger interface {
	StartPlay(ctx context.Context) (int64, error)
	EndPlay() bool
}

// Recorder issues operator commands to the registry and the ledger.
type Recorder struct {
	registry *Registry
	ledger   PlayLedger
	logger   *log.Logger
}

// New returns a new recorder.
func New(registry *Registry, ledger PlayLedger, logger *log.Logger) *Recorder {
	return &Recorder{
		registry: registry,
		ledger:   ledger,
		logger:   logger,
	}
}

// Registry returns the client registry.
func (r *Recorder) Registry() *Registry {
	return r.registry
}

// Start opens a play and broadcasts StartRecording. Nothing is
// broadcast if the ledger rejects the play.
func (r *Recorder) Start(ctx context.Context) (int64, error) {
	play, err := r.ledger.StartPlay(ctx)
	if err != nil {
		return 0, fmt.Errorf("start play: %w", err)
	}
	n := r.registry.Broadcast(StartRecording(play))
	r.logger.Info().Src("recorder").Msgf("play %d started on %d clients", play, n)
	return play, nil
}

// Stop broadcasts StopRecording and closes the play.
// Returns false if no play was open.
func (r *Recorder) Stop() bool {
	n := r.registry.Broadcast(StopRecording())
	wasOpen := r.ledger.EndPlay()
	if wasOpen {
		r.logger.Info().Src("recorder").Msgf("play stopped on %d clients", n)
	} else {
		r.logger.Warn().Src("recorder").Msg("stop without an open play")
	}
	return wasOpen
}

// Cleanup removes every client.
func (r *Recorder) Cleanup() {
	n := r.registry.Broadcast(Cleanup())
	r.logger.Info().Src("recorder").Msgf("cleaned up %d clients", n)
}

// Remove deregisters each address.
func (r *Recorder) Remove(addrs ...string) error {
	var errs []error
	for _, addr := range addrs {
		if err := r.registry.Deregister(addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clients returns the registered clients.
func (r *Recorder) Clients() []ClientInfo {
	return r.registry.Clients()
}

// Handler serves the recording endpoint.
func (r *Recorder) Handler() http.Handler {
	return transport.Handler(func(conn *transport.Conn) {
		if err := r.registry.Register(conn); err != nil {
			r.logger.Error().Src("recorder").Client(conn.RemoteAddr()).
				Msgf("could not register client: %v", err)
		}
	})
}
