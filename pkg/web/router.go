// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"net/http"

	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
	"github.com/EvanMerlock/sports-record/pkg/system"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig handlers of the recorder's web server.
type RouterConfig struct {
	Recorder Recorder
	Plays    PlayQuerier
	LogDB    LogQuerier
	Status   func() system.Status
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

// NewRouter returns the recorder's API router.
func NewRouter(c RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.RequestMiddleware(c.Metrics))

	r.Method(http.MethodGet, "/metrics", c.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/clients", Clients(c.Recorder))
		r.Post("/clients/remove", ClientsRemove(c.Recorder))
		r.Post("/clients/clean", ClientsClean(c.Recorder))

		r.Post("/record/start", RecordStart(c.Recorder, c.Logger))
		r.Post("/record/stop", RecordStop(c.Recorder))

		r.Get("/plays", Plays(c.Plays, c.Logger))

		r.Get("/log/feed", LogFeed(c.Logger))
		if c.LogDB != nil {
			r.Get("/log/query", LogQuery(c.LogDB))
		}

		if c.Status != nil {
			r.Get("/system/status", SystemStatus(c.Status))
		}
	})
	return r
}

// NewPreviewRouter returns the camera node's preview viewer router.
func NewPreviewRouter(preview http.Handler, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.RequestMiddleware(m))

	r.Method(http.MethodGet, "/preview", preview)
	return r
}

// NewClientRouter returns the camera node's status router.
func NewClientRouter(status func() system.Status, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.RequestMiddleware(m))

	r.Method(http.MethodGet, "/metrics", m.Handler())
	if status != nil {
		r.Get("/api/system/status", SystemStatus(status))
	}
	return r
}
