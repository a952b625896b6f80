package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "bgpload"

var (
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total updates appended to sinks.",
		},
		[]string{"sink"},
	)
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total buffer flushes per sink kind.",
		},
		[]string{"sink"},
	)
	FlushRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_rows",
			Help:      "Rows written per flush.",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
		},
	)
	FlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_ms",
			Help:      "Flush latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		},
		[]string{"sink"},
	)
	WorkerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Range workers that failed, by failure kind.",
		},
		[]string{"kind"},
	)
	RangesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ranges_in_flight",
			Help:      "Range workers currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal,
		FlushesTotal,
		FlushRows,
		FlushLatency,
		WorkerFailuresTotal,
		RangesInFlight,
	)
}
