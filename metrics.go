// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for sessions and streams.
// A nil *Metrics records nothing.
type Metrics struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sessionErrors  prometheus.Counter
	bytesRead      prometheus.Counter
	bytesWritten   prometheus.Counter
	streamsTotal   *prometheus.CounterVec
	streamErrors   *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	handlerPanics  prometheus.Counter
	routesNotFound prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
// If reg is nil, the metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raprelay",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of connected sessions",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "session",
			Name:      "total",
			Help:      "Total number of sessions accepted",
		}),
		sessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Sessions torn down by a transport or protocol error",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "session",
			Name:      "read_bytes_total",
			Help:      "Bytes read from all sessions",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "session",
			Name:      "written_bytes_total",
			Help:      "Bytes written to all sessions",
		}),
		streamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "stream",
			Name:      "total",
			Help:      "Streams served, by route and mode",
		}, []string{"route", "mode"}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Streams that ended with an error, by route and error code",
		}, []string{"route", "code"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "raprelay",
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Time spent in stream handlers",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"route"}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "stream",
			Name:      "panics_total",
			Help:      "Stream handlers that panicked",
		}),
		routesNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "stream",
			Name:      "route_not_found_total",
			Help:      "Requests for unknown routes",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsActive, m.sessionsTotal, m.sessionErrors,
			m.bytesRead, m.bytesWritten,
			m.streamsTotal, m.streamErrors, m.streamDuration,
			m.handlerPanics, m.routesNotFound,
		)
		reg.MustRegister(framePoolCollectors()...)
	}
	return m
}

func framePoolCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "raprelay",
			Subsystem: "framepool",
			Name:      "free",
			Help:      "Frame buffers ready for reuse",
		}, func() float64 { return float64(FramePoolStatistics().Free) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "framepool",
			Name:      "allocs_total",
			Help:      "Frame buffers allocated because none were free",
		}, func() float64 { return float64(FramePoolStatistics().Allocs) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "raprelay",
			Subsystem: "framepool",
			Name:      "reuses_total",
			Help:      "Frame buffers handed out from the pool",
		}, func() float64 { return float64(FramePoolStatistics().Reuses) }),
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.sessionsTotal.Inc()
		m.sessionsActive.Inc()
	}
}

func (m *Metrics) sessionEnded(err error) {
	if m != nil {
		m.sessionsActive.Dec()
		if err != nil {
			m.sessionErrors.Inc()
		}
	}
}

// AddBytesRead implements StatsCollector.
func (m *Metrics) AddBytesRead(n int64) {
	if m != nil {
		m.bytesRead.Add(float64(n))
	}
}

// AddBytesWritten implements StatsCollector.
func (m *Metrics) AddBytesWritten(n int64) {
	if m != nil {
		m.bytesWritten.Add(float64(n))
	}
}

func (m *Metrics) streamServed(route string, mode InteractionMode, started time.Time, err error) {
	if m != nil {
		m.streamsTotal.WithLabelValues(route, mode.String()).Inc()
		m.streamDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
		if err != nil {
			m.streamErrors.WithLabelValues(route, ErrorCodeOf(err).String()).Inc()
		}
	}
}

func (m *Metrics) routeNotFound() {
	if m != nil {
		m.routesNotFound.Inc()
	}
}

func (m *Metrics) handlerPanic() {
	if m != nil {
		m.handlerPanics.Inc()
	}
}
