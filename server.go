// SPDX-License-Identifier: GPL-2.0-or-later

package sportsrec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/config"
	"github.com/EvanMerlock/sports-record/pkg/console"
	"github.com/EvanMerlock/sports-record/pkg/ledger"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/media/ff"
	"github.com/EvanMerlock/sports-record/pkg/media/segfile"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
	"github.com/EvanMerlock/sports-record/pkg/recorder"
	"github.com/EvanMerlock/sports-record/pkg/storage"
	"github.com/EvanMerlock/sports-record/pkg/system"
	"github.com/EvanMerlock/sports-record/pkg/web"

	"github.com/go-chi/chi/v5"
)

const purgeInterval = 10 * time.Minute

// NewMuxerFunc returns the segment muxer of the output format.
func NewMuxerFunc(format string) media.NewMuxerFunc {
	if format == config.FormatSeg {
		return segfile.NewMuxer
	}
	return ff.NewMuxer
}

// RunServer runs the recorder until ctx is canceled. Operator commands
// are read from in unless the console is disabled.
func RunServer(ctx context.Context, c config.ServerConfig, in io.Reader) error { //nolint:funlen
	s := newServices()
	defer s.stop()

	if err := s.start(); err != nil {
		return err
	}
	logger := s.logger
	ff.RouteLogs(logger, log.LevelWarning)

	logDB := s.startLogDB(c.LogDatabase)

	store := storage.NewManager(c.OutputDir, c.MaxDiskUsage(), logger)
	if err := store.Prepare(); err != nil {
		return fmt.Errorf("could not prepare output directory: %w", err)
	}

	l, err := ledger.Open(s.ctx, c.Database)
	if err != nil {
		return fmt.Errorf("could not open ledger: %w", err)
	}
	defer l.Close()

	m := metrics.New()
	registry := recorder.NewRegistry(s.ctx, recorder.RegistryConfig{
		Extension:         c.OutputFormat,
		NewMuxer:          NewMuxerFunc(c.OutputFormat),
		Storage:           store,
		Ledger:            l,
		Metrics:           m,
		Logger:            logger,
		InstructionBuffer: c.InstructionBuffer,
		DrainTimeout:      time.Duration(c.DrainTimeout),
	})
	defer registry.Close()
	rec := recorder.New(registry, l, logger)

	sys := system.New(store.DiskUsage, logger)
	go sys.StatusLoop(s.ctx)
	if c.MaxDiskUsage() > 0 {
		go store.PurgeLoop(s.ctx, purgeInterval)
	}

	recordRouter := chi.NewRouter()
	recordRouter.Use(metrics.RequestMiddleware(m))
	recordRouter.Method(http.MethodGet, "/record", rec.Handler())
	recordServer := &http.Server{Addr: c.RecordAddress, Handler: recordRouter}

	routerConfig := web.RouterConfig{
		Recorder: rec,
		Plays:    l,
		Status:   sys.Status,
		Metrics:  m,
		Logger:   logger,
	}
	if logDB != nil {
		routerConfig.LogDB = logDB
	}
	webServer := &http.Server{Addr: c.WebAddress, Handler: web.NewRouter(routerConfig)}

	fatal := make(chan error, 2)
	listenAndServe(recordServer, fatal)
	listenAndServe(webServer, fatal)
	logger.Info().Src("app").Msgf("%s: recording on %v, serving api on %v",
		c.TeamName, c.RecordAddress, c.WebAddress)

	if !c.DisableConsole {
		go console.New(in, rec, logger).Run(ctx)
	}

	err = wait(ctx, logger, fatal)

	// Finalize every open segment before the ledger closes.
	registry.Close()
	if l.EndPlay() {
		logger.Info().Src("app").Msg("closed open play")
	}
	shutdown(logger, recordServer, webServer)
	return err
}
