// Package metrics exposes Prometheus collectors for the streaming runtime,
// grounded on the teacher's runtime/metrics/prometheus package.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bubblekit"

var (
	// StreamsActive is a gauge of streams currently in the Running state.
	StreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "streams_active",
		Help:      "Number of streaming requests currently being served",
	})

	// StreamDuration is a histogram of stream lifetime, from Opening to
	// sink close.
	StreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stream_duration_seconds",
		Help:      "Duration of a streaming request from open to close",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"terminal_reason"})

	// FramesTotal counts every frame a sink emits, by frame type.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Total number of NDJSON frames emitted",
	}, []string{"type"})

	// BubblesTotal counts bubble lifecycle events by finalize_reason:
	// "bound" each time a bubble is bound into a session, "auto" each time
	// the controller auto-finalizes one. Bubbles finalized by the handler
	// itself are not counted.
	BubblesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bubbles_total",
		Help:      "Total number of bubbles bound into a session",
	}, []string{"finalize_reason"})

	// HandlerErrorsTotal counts handler invocations that returned an error.
	HandlerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_errors_total",
		Help:      "Total number of handler invocations that failed",
	}, []string{"handler"})

	allCollectors = []prometheus.Collector{
		StreamsActive,
		StreamDuration,
		FramesTotal,
		BubblesTotal,
		HandlerErrorsTotal,
	}
)

// NewRegistry builds a Prometheus registry carrying every bubblekit
// collector, for serving through Handler or a custom /metrics handler.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allCollectors {
		reg.MustRegister(c)
	}
	return reg
}

// Handler returns an http.Handler serving the given registry's metrics in
// the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
