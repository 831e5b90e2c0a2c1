package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Learath2/libtw2/internal/snap"
)

const namespace = "snapsync"

// Prometheus implements Metrics on top of client_golang collectors.
type Prometheus struct {
	deltas    *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	dropped   prometheus.Counter
	acks      *prometheus.CounterVec
	resyncs   *prometheus.CounterVec
	resets    prometheus.Counter
	evictions prometheus.Counter
	tick      prometheus.Histogram
}

// NewPrometheus creates the replication collectors and registers them on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "deltas_sent_total",
			Help:      "Deltas queued to peers.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "delta_bytes_total",
			Help:      "Encoded delta bytes queued to peers.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_dropped_total",
			Help:      "Frames dropped because a peer outbox was full.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "acks_total",
			Help:      "Acknowledgements received from peers.",
		}, []string{"result"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "resync_requests_total",
			Help:      "Full snapshot requests received from peers.",
		}, []string{"reason"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "lag_resets_total",
			Help:      "Peers reset to a full snapshot because they fell outside history.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Snapshots trimmed from history.",
		}),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "tick_duration_seconds",
			Help:      "Time spent producing and fanning out one tick.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1},
		}),
	}
	for _, c := range []prometheus.Collector{p.deltas, p.bytes, p.dropped, p.acks, p.resyncs, p.resets, p.evictions, p.tick} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func kind(full bool) string {
	if full {
		return "full"
	}
	return "delta"
}

func (p *Prometheus) DeltaSent(full bool, bytes int) {
	p.deltas.WithLabelValues(kind(full)).Inc()
	p.bytes.WithLabelValues(kind(full)).Add(float64(bytes))
}

func (p *Prometheus) SendDropped() {
	p.dropped.Inc()
}

func (p *Prometheus) AckReceived(advanced bool) {
	if advanced {
		p.acks.WithLabelValues("advanced").Inc()
		return
	}
	p.acks.WithLabelValues("ignored").Inc()
}

func (p *Prometheus) ResyncRequested(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	p.resyncs.WithLabelValues(reason).Inc()
}

func (p *Prometheus) PeerResets(n int) {
	p.resets.Add(float64(n))
}

func (p *Prometheus) HistoryEvicted(n int) {
	p.evictions.Add(float64(n))
}

func (p *Prometheus) TickDuration(d time.Duration) {
	p.tick.Observe(d.Seconds())
}

// HistorySource is the view of the server state sampled at scrape time.
type HistorySource interface {
	Window() (size int, oldest, newest snap.Tick)
}

// HistoryCollector reports history and peer gauges straight from their
// owners whenever the registry is scraped.
type HistoryCollector struct {
	history HistorySource
	peers   interface{ Len() int }

	historySize *prometheus.Desc
	oldestTick  *prometheus.Desc
	newestTick  *prometheus.Desc
	peerCount   *prometheus.Desc
}

func NewHistoryCollector(history HistorySource, peers interface{ Len() int }) *HistoryCollector {
	return &HistoryCollector{
		history: history,
		peers:   peers,
		historySize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "history", "snapshots"),
			"Snapshots currently retained.",
			nil, nil,
		),
		oldestTick: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "history", "oldest_tick"),
			"Oldest retained tick.",
			nil, nil,
		),
		newestTick: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "history", "newest_tick"),
			"Newest retained tick.",
			nil, nil,
		),
		peerCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "replication", "peers"),
			"Connected peers.",
			nil, nil,
		),
	}
}

func (c *HistoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.historySize
	ch <- c.oldestTick
	ch <- c.newestTick
	ch <- c.peerCount
}

func (c *HistoryCollector) Collect(ch chan<- prometheus.Metric) {
	size, oldest, newest := c.history.Window()
	ch <- prometheus.MustNewConstMetric(c.historySize, prometheus.GaugeValue, float64(size))
	ch <- prometheus.MustNewConstMetric(c.oldestTick, prometheus.GaugeValue, float64(oldest))
	ch <- prometheus.MustNewConstMetric(c.newestTick, prometheus.GaugeValue, float64(newest))
	ch <- prometheus.MustNewConstMetric(c.peerCount, prometheus.GaugeValue, float64(c.peers.Len()))
}
