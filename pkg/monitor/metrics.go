package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the engine's Prometheus collectors.
type metrics struct {
	cycles              *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	checkpoint          prometheus.Gauge
	chainHeight         prometheus.Gauge
	logsFetched         prometheus.Counter
	decodeFailures      prometheus.Counter
	deliveries          *prometheus.CounterVec
	consecutiveFailures prometheus.Gauge
	persistFailures     prometheus.Counter
}

// newMetrics registers the engine collectors with reg. A nil reg creates
// unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenwatch_cycles_total",
			Help: "Total number of poll cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tokenwatch_cycle_duration_seconds",
			Help:    "Duration of poll cycles",
			Buckets: prometheus.DefBuckets,
		}),
		checkpoint: f.NewGauge(prometheus.GaugeOpts{
			Name: "tokenwatch_last_checked_block",
			Help: "Highest block fully scanned for TokenCreated events",
		}),
		chainHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tokenwatch_chain_height",
			Help: "Latest block height reported by the node",
		}),
		logsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "tokenwatch_logs_fetched_total",
			Help: "Total number of matching logs returned by the node",
		}),
		decodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tokenwatch_decode_failures_total",
			Help: "Total number of logs skipped because they could not be decoded",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenwatch_deliveries_total",
			Help: "Total number of tenant deliveries by result",
		}, []string{"result"}),
		consecutiveFailures: f.NewGauge(prometheus.GaugeOpts{
			Name: "tokenwatch_consecutive_failed_cycles",
			Help: "Number of consecutive failed poll cycles",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tokenwatch_persist_failures_total",
			Help: "Total number of failed state saves",
		}),
	}
}

func (m *metrics) observe(res CycleResult, failures int) {
	m.cycles.WithLabelValues(string(res.Outcome)).Inc()
	m.cycleDuration.Observe(res.Duration.Seconds())
	m.consecutiveFailures.Set(float64(failures))
	if res.Height > 0 {
		m.chainHeight.Set(float64(res.Height))
	}
	m.logsFetched.Add(float64(res.Logs))
	m.decodeFailures.Add(float64(res.DecodeFailures))
	if res.Delivered > 0 {
		m.deliveries.WithLabelValues("delivered").Add(float64(res.Delivered))
	}
	if res.DeliveryFailed > 0 {
		m.deliveries.WithLabelValues("failed").Add(float64(res.DeliveryFailed))
	}
}
