package telemetry

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Learath2/libtw2/internal/snap"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := log.New(&buf, "", 0)
		logger := WrapLogger(base)
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
		provider, ok := logger.(interface{ StandardLogger() *log.Logger })
		if !ok || provider.StandardLogger() != base {
			t.Fatalf("expected wrapped logger to expose the standard logger")
		}
	})
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, label := range m.GetLabel() {
				key += "/" + label.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestPrometheusRecordsReplicationActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("new prometheus: %v", err)
	}

	metrics.DeltaSent(true, 100)
	metrics.DeltaSent(false, 10)
	metrics.DeltaSent(false, 15)
	metrics.AckReceived(true)
	metrics.AckReceived(false)
	metrics.ResyncRequested("")
	metrics.ResyncRequested("base_mismatch")
	metrics.SendDropped()
	metrics.PeerResets(2)
	metrics.HistoryEvicted(3)
	metrics.TickDuration(3 * time.Millisecond)

	got := gather(t, reg)
	want := map[string]float64{
		"snapsync_replication_deltas_sent_total/full":              1,
		"snapsync_replication_deltas_sent_total/delta":             2,
		"snapsync_replication_delta_bytes_total/delta":             25,
		"snapsync_replication_acks_total/advanced":                 1,
		"snapsync_replication_acks_total/ignored":                  1,
		"snapsync_replication_resync_requests_total/unspecified":   1,
		"snapsync_replication_resync_requests_total/base_mismatch": 1,
		"snapsync_transport_send_dropped_total":                    1,
		"snapsync_replication_lag_resets_total":                    2,
		"snapsync_history_evictions_total":                         3,
		"snapsync_hub_tick_duration_seconds":                       1,
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("expected %s=%v, got %v", key, value, got[key])
		}
	}

	if _, err := NewPrometheus(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

type fixedWindow struct{}

func (fixedWindow) Window() (int, snap.Tick, snap.Tick) { return 4, 10, 13 }

type fixedPeers int

func (p fixedPeers) Len() int { return int(p) }

func TestHistoryCollectorSamplesOnScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewHistoryCollector(fixedWindow{}, fixedPeers(3)))

	got := gather(t, reg)
	want := map[string]float64{
		"snapsync_history_snapshots":   4,
		"snapsync_history_oldest_tick": 10,
		"snapsync_history_newest_tick": 13,
		"snapsync_replication_peers":   3,
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("expected %s=%v, got %v", key, value, got[key])
		}
	}
}

func TestNopMetrics(t *testing.T) {
	var m Metrics = NopMetrics{}
	m.DeltaSent(true, 1)
	m.TickDuration(time.Second)
}
