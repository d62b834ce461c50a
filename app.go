// SPDX-License-Identifier: GPL-2.0-or-later

// Package sportsrec wires the recorder and the camera node applications.
package sportsrec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/log"
)

const shutdownTimeout = 5 * time.Second

// services that outlive the stop signal so shutdown can still log.
type services struct {
	wg     *sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
}

func newServices() *services {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	return &services{
		wg:     wg,
		ctx:    ctx,
		cancel: cancel,
		logger: log.NewLogger(wg),
	}
}

func (s *services) start() error {
	if err := s.logger.Start(s.ctx); err != nil {
		return fmt.Errorf("could not start logger: %w", err)
	}
	go s.logger.LogToStdout(s.ctx)
	return nil
}

// startLogDB saves logs to path. A corrupt database is logged and skipped.
func (s *services) startLogDB(path string) *log.DB {
	logDB := log.NewDB(path, s.wg)
	if err := logDB.Init(s.ctx); err != nil {
		s.logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
		return nil
	}
	go logDB.SaveLogs(s.ctx, s.logger)
	return logDB
}

// stop cancels the services and waits for them.
func (s *services) stop() {
	s.cancel()
	s.wg.Wait()
}

// listenAndServe sends the first serve error to errc.
func listenAndServe(srv *http.Server, errc chan<- error) {
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("serve %v: %w", srv.Addr, err)
		}
	}()
}

func shutdown(logger *log.Logger, servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Src("app").Msgf("could not shutdown %v: %v", srv.Addr, err)
		}
	}
}

// wait blocks until ctx is canceled or a fatal error arrives.
func wait(ctx context.Context, logger *log.Logger, fatal <-chan error) error {
	select {
	case err := <-fatal:
		logger.Error().Src("app").Msgf("fatal error: %v", err)
		return err
	case <-ctx.Done():
		logger.Info().Src("app").Msg("stopping")
		return nil
	}
}
