// Package metrics exports upload and finalize counters in the Prometheus
// text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splice"

// Metrics implements splice.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	chunksAccepted   prometheus.Counter
	chunkBytes       prometheus.Counter
	finalizes        *prometheus.CounterVec
	finalizeDuration prometheus.Histogram
	finalizedBytes   prometheus.Counter
}

// New registers the splice collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		chunksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_accepted_total",
			Help:      "Chunks durably stored.",
		}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes written across accepted chunks.",
		}),
		finalizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Finalize attempts by outcome.",
		}, []string{"outcome"}),
		finalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Time spent assembling and publishing completed objects.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		finalizedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_bytes_total",
			Help:      "Bytes published into the completed namespace.",
		}),
	}

	reg.MustRegister(
		m.chunksAccepted,
		m.chunkBytes,
		m.finalizes,
		m.finalizeDuration,
		m.finalizedBytes,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ChunkAccepted(bytes int64) {
	m.chunksAccepted.Inc()
	m.chunkBytes.Add(float64(bytes))
}

func (m *Metrics) FinalizeCompleted(d time.Duration, size int64) {
	m.finalizes.WithLabelValues("completed").Inc()
	m.finalizeDuration.Observe(d.Seconds())
	m.finalizedBytes.Add(float64(size))
}

func (m *Metrics) FinalizeFailed(error) {
	m.finalizes.WithLabelValues("failed").Inc()
}

func (m *Metrics) FinalizeRaceLost() {
	m.finalizes.WithLabelValues("race_lost").Inc()
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
