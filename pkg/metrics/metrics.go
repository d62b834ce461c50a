// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes prometheus counters for the recorder and the camera nodes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges of one process.
type Metrics struct {
	registry *prometheus.Registry

	connectedClients   prometheus.Gauge
	segmentsOpened     prometheus.Counter
	segmentsFinalized  prometheus.Counter
	packetsMuxed       prometheus.Counter
	bytesMuxed         prometheus.Counter
	malformedMessages  prometheus.Counter
	droppedInstruction prometheus.Counter

	packetsSent          prometheus.Counter
	previewFrames        prometheus.Counter
	previewFramesDropped prometheus.Counter
	reconnects           prometheus.Counter

	httpRequests prometheus.Counter
	httpErrors   prometheus.Counter
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sportsrec_connected_clients",
			Help: "Number of registered camera nodes",
		}),
		segmentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_segments_opened_total",
			Help: "Total number of segment files created",
		}),
		segmentsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_segments_finalized_total",
			Help: "Total number of segment files finalized",
		}),
		packetsMuxed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_packets_muxed_total",
			Help: "Total number of packets written to segment files",
		}),
		bytesMuxed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_bytes_muxed_total",
			Help: "Total payload bytes written to segment files",
		}),
		malformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_malformed_messages_total",
			Help: "Total number of dropped messages that could not be decoded",
		}),
		droppedInstruction: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_dropped_instructions_total",
			Help: "Total number of instructions skipped because a worker was busy",
		}),

		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_packets_sent_total",
			Help: "Total number of storage packets sent to the recorder",
		}),
		previewFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_preview_frames_total",
			Help: "Total number of preview frames encoded",
		}),
		previewFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_preview_frames_dropped_total",
			Help: "Total number of preview frames dropped for slow viewers",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_reconnects_total",
			Help: "Total number of connection attempts to the recorder after the first",
		}),

		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_http_requests_total",
			Help: "Total number of HTTP requests",
		}),
		httpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sportsrec_http_errors_total",
			Help: "Total number of HTTP responses with status 400 or above",
		}),
	}

	registry.MustRegister(
		m.connectedClients,
		m.segmentsOpened,
		m.segmentsFinalized,
		m.packetsMuxed,
		m.bytesMuxed,
		m.malformedMessages,
		m.droppedInstruction,
		m.packetsSent,
		m.previewFrames,
		m.previewFramesDropped,
		m.reconnects,
		m.httpRequests,
		m.httpErrors,
	)
	return m
}

// SetConnectedClients sets the connected clients gauge.
func (m *Metrics) SetConnectedClients(n int) {
	m.connectedClients.Set(float64(n))
}

// IncSegmentsOpened increments the opened segments counter.
func (m *Metrics) IncSegmentsOpened() {
	m.segmentsOpened.Inc()
}

// IncSegmentsFinalized increments the finalized segments counter.
func (m *Metrics) IncSegmentsFinalized() {
	m.segmentsFinalized.Inc()
}

// AddMuxed counts one muxed packet of size bytes.
func (m *Metrics) AddMuxed(size int) {
	m.packetsMuxed.Inc()
	m.bytesMuxed.Add(float64(size))
}

// IncMalformed increments the malformed messages counter.
func (m *Metrics) IncMalformed() {
	m.malformedMessages.Inc()
}

// IncDroppedInstructions increments the dropped instructions counter.
func (m *Metrics) IncDroppedInstructions() {
	m.droppedInstruction.Inc()
}

// AddPacketsSent counts sent storage packets.
func (m *Metrics) AddPacketsSent(n int) {
	m.packetsSent.Add(float64(n))
}

// IncPreviewFrames increments the preview frames counter.
func (m *Metrics) IncPreviewFrames() {
	m.previewFrames.Inc()
}

// IncPreviewFramesDropped increments the dropped preview frames counter.
func (m *Metrics) IncPreviewFramesDropped() {
	m.previewFramesDropped.Inc()
}

// IncReconnects increments the reconnect counter.
func (m *Metrics) IncReconnects() {
	m.reconnects.Inc()
}

// Registry returns the registry, used to register process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
