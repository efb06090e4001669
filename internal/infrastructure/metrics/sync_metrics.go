// Package metrics provides Prometheus instrumentation for the sync engine and its transports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// SyncMetrics contains Prometheus metrics for monitoring notification sync.
type SyncMetrics struct {
	EventsApplied   *prometheus.CounterVec
	LoadsTotal      *prometheus.CounterVec
	LoadDuration    prometheus.Histogram
	RollbacksTotal  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SocketClients   prometheus.Gauge
	StreamPublishes *prometheus.CounterVec
	HandlerPanics   prometheus.Counter
}

// NewSyncMetrics creates and registers sync metrics with the given registerer.
func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	metrics := &SyncMetrics{
		EventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifysync_events_applied_total",
				Help: "Total number of change events handled by sync engines",
			},
			[]string{"kind", "outcome"}, // outcome: applied/unchanged/duplicate/stale/ignored
		),
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifysync_loads_total",
				Help: "Total number of full feed loads",
			},
			[]string{"status"}, // status: success/failed
		),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifysync_load_duration_seconds",
			Help:    "Time to fetch the feed and the unread count",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifysync_rollbacks_total",
				Help: "Total number of optimistic mutations undone after a failed write",
			},
			[]string{"operation"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifysync_active_sessions",
			Help: "Current number of signed-in sync sessions",
		}),
		SocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifysync_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		}),
		StreamPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifysync_stream_publishes_total",
				Help: "Total number of change events published to user streams",
			},
			[]string{"kind", "status"},
		),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifysync_http_panics_total",
			Help: "Total number of panics recovered in HTTP handlers",
		}),
	}

	registerer.MustRegister(
		metrics.EventsApplied,
		metrics.LoadsTotal,
		metrics.LoadDuration,
		metrics.RollbacksTotal,
		metrics.ActiveSessions,
		metrics.SocketClients,
		metrics.StreamPublishes,
		metrics.HandlerPanics,
	)

	return metrics
}

// EventApplied records the outcome of one change event.
func (m *SyncMetrics) EventApplied(kind notification.ChangeKind, outcome appnotification.Outcome) {
	m.EventsApplied.WithLabelValues(string(kind), string(outcome)).Inc()
}

// LoadCompleted records a full load.
func (m *SyncMetrics) LoadCompleted(success bool, took time.Duration) {
	m.LoadsTotal.WithLabelValues(status(success)).Inc()
	if success {
		m.LoadDuration.Observe(took.Seconds())
	}
}

// RollbackPerformed records an undone optimistic mutation.
func (m *SyncMetrics) RollbackPerformed(operation string) {
	m.RollbacksTotal.WithLabelValues(operation).Inc()
}

// SessionStarted increments the active session gauge.
func (m *SyncMetrics) SessionStarted() { m.ActiveSessions.Inc() }

// SessionEnded decrements the active session gauge.
func (m *SyncMetrics) SessionEnded() { m.ActiveSessions.Dec() }

// ClientConnected increments the WebSocket client gauge.
func (m *SyncMetrics) ClientConnected() { m.SocketClients.Inc() }

// ClientDisconnected decrements the WebSocket client gauge.
func (m *SyncMetrics) ClientDisconnected() { m.SocketClients.Dec() }

// PanicRecovered counts a recovered handler panic.
func (m *SyncMetrics) PanicRecovered() { m.HandlerPanics.Inc() }

// EventPublished records a publish to a user stream.
func (m *SyncMetrics) EventPublished(kind notification.ChangeKind, err error) {
	m.StreamPublishes.WithLabelValues(string(kind), status(err == nil)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

var _ appnotification.Metrics = (*SyncMetrics)(nil)
