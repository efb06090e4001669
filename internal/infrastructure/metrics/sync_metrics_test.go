package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
	"github.com/lllypuk/notifysync/internal/infrastructure/metrics"
)

func TestSyncMetrics_Registration(t *testing.T) {
	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	if syncMetrics.EventsApplied == nil {
		t.Error("EventsApplied metric not initialized")
	}
	if syncMetrics.LoadDuration == nil {
		t.Error("LoadDuration metric not initialized")
	}
	if syncMetrics.ActiveSessions == nil {
		t.Error("ActiveSessions metric not initialized")
	}

	defer func() {
		if recover() == nil {
			t.Error("registering twice on the same registry should panic")
		}
	}()
	metrics.NewSyncMetrics(registry)
}

func TestSyncMetrics_EventApplied(t *testing.T) {
	syncMetrics := metrics.NewSyncMetrics(prometheus.NewRegistry())

	syncMetrics.EventApplied(notification.ChangeInsert, appnotification.OutcomeApplied)
	syncMetrics.EventApplied(notification.ChangeInsert, appnotification.OutcomeApplied)
	syncMetrics.EventApplied(notification.ChangeInsert, appnotification.OutcomeDuplicate)

	got := testutil.ToFloat64(syncMetrics.EventsApplied.WithLabelValues("insert", "applied"))
	if got != 2 {
		t.Errorf("applied inserts = %v, want 2", got)
	}
	got = testutil.ToFloat64(syncMetrics.EventsApplied.WithLabelValues("insert", "duplicate"))
	if got != 1 {
		t.Errorf("duplicate inserts = %v, want 1", got)
	}
}

func TestSyncMetrics_Loads(t *testing.T) {
	syncMetrics := metrics.NewSyncMetrics(prometheus.NewRegistry())

	syncMetrics.LoadCompleted(true, 20*time.Millisecond)
	syncMetrics.LoadCompleted(false, time.Second)

	if got := testutil.ToFloat64(syncMetrics.LoadsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("successful loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(syncMetrics.LoadsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed loads = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(syncMetrics.LoadDuration); got != 1 {
		t.Errorf("load duration series = %v, want 1", got)
	}
}

func TestSyncMetrics_Gauges(t *testing.T) {
	syncMetrics := metrics.NewSyncMetrics(prometheus.NewRegistry())

	syncMetrics.SessionStarted()
	syncMetrics.SessionStarted()
	syncMetrics.SessionEnded()
	syncMetrics.ClientConnected()

	if got := testutil.ToFloat64(syncMetrics.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(syncMetrics.SocketClients); got != 1 {
		t.Errorf("socket clients = %v, want 1", got)
	}
}

func TestSyncMetrics_Counters(t *testing.T) {
	syncMetrics := metrics.NewSyncMetrics(prometheus.NewRegistry())

	syncMetrics.RollbackPerformed("mark_as_read")
	syncMetrics.EventPublished(notification.ChangeUpdate, nil)
	syncMetrics.EventPublished(notification.ChangeUpdate, errors.New("redis down"))
	syncMetrics.PanicRecovered()

	if got := testutil.ToFloat64(syncMetrics.RollbacksTotal.WithLabelValues("mark_as_read")); got != 1 {
		t.Errorf("rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(syncMetrics.StreamPublishes.WithLabelValues("update", "failed")); got != 1 {
		t.Errorf("failed publishes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(syncMetrics.HandlerPanics); got != 1 {
		t.Errorf("handler panics = %v, want 1", got)
	}
}
