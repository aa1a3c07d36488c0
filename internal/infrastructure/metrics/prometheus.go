package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa las métricas Prometheus de un proceso bot o launcher.
// Un *Metrics nil es válido y no registra nada.
type Metrics struct {
	// cache de settings
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	Defaults    *prometheus.CounterVec

	// escrituras agrupadas
	Upserts       *prometheus.CounterVec
	FlushDuration *prometheus.HistogramVec
	PendingWrites *prometheus.GaugeVec

	// canal de control
	EnvelopesReceived *prometheus.CounterVec
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec

	// launcher
	ClustersConnected prometheus.Gauge
	ClusterRestarts   *prometheus.CounterVec
}

// NewMetrics crea las métricas y las registra en reg. Con reg nil usa el
// registerer por defecto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_cache_hits_total",
				Help: "Settings reads served from the in-memory cache",
			},
			[]string{"table"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_cache_misses_total",
				Help: "Settings reads that required a durable load",
			},
			[]string{"table"},
		),
		Defaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_cache_default_fallbacks_total",
				Help: "Settings reads answered with a copy of the default row",
			},
			[]string{"table"},
		),
		Upserts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_flush_upserts_total",
				Help: "Coalesced upserts executed by the flush loop",
			},
			[]string{"table", "result"},
		),
		FlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ttsbot_flush_duration_seconds",
				Help:    "Duration of one flush tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table"},
		),
		PendingWrites: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ttsbot_pending_writes",
				Help: "Keys waiting for the next flush tick",
			},
			[]string{"table"},
		),
		EnvelopesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_control_envelopes_received_total",
				Help: "Control envelopes received",
			},
			[]string{"opcode"},
		),
		EnvelopesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_control_envelopes_sent_total",
				Help: "Control envelopes sent",
			},
			[]string{"opcode"},
		),
		EnvelopesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_control_envelopes_dropped_total",
				Help: "Control envelopes dropped",
			},
			[]string{"reason"},
		),
		ClustersConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ttsbot_launcher_clusters_connected",
				Help: "Clusters with an open control connection",
			},
		),
		ClusterRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttsbot_launcher_cluster_restarts_total",
				Help: "Cluster process restarts",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) CacheHit(table string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(table).Inc()
}

func (m *Metrics) CacheMiss(table string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(table).Inc()
}

func (m *Metrics) DefaultFallback(table string) {
	if m == nil {
		return
	}
	m.Defaults.WithLabelValues(table).Inc()
}

func (m *Metrics) Upsert(table string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Upserts.WithLabelValues(table, result).Inc()
}

func (m *Metrics) Flushed(table string, started time.Time) {
	if m == nil {
		return
	}
	m.FlushDuration.WithLabelValues(table).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Pending(table string, n int) {
	if m == nil {
		return
	}
	m.PendingWrites.WithLabelValues(table).Set(float64(n))
}

func (m *Metrics) Received(opcode string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(opcode).Inc()
}

func (m *Metrics) Sent(opcode string) {
	if m == nil {
		return
	}
	m.EnvelopesSent.WithLabelValues(opcode).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.EnvelopesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Connected(n int) {
	if m == nil {
		return
	}
	m.ClustersConnected.Set(float64(n))
}

func (m *Metrics) Restarted(reason string) {
	if m == nil {
		return
	}
	m.ClusterRestarts.WithLabelValues(reason).Inc()
}
