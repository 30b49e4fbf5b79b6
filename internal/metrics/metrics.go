package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	Conversions     *prometheus.CounterVec
	UploadBytes     prometheus.Histogram
	Downloads       *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	ArtifactsSwept  prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grayavatar",
				Subsystem: "conversions",
				Name:      "total",
				Help:      "Total number of successful conversions by output format",
			},
			[]string{"format"},
		),

		UploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "grayavatar",
				Subsystem: "conversions",
				Name:      "upload_bytes",
				Help:      "Size of accepted uploads in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 6),
			},
		),

		Downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grayavatar",
				Subsystem: "downloads",
				Name:      "total",
				Help:      "Total number of artifacts served by content type",
			},
			[]string{"content_type"},
		),

		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grayavatar",
				Subsystem: "requests",
				Name:      "rejected_total",
				Help:      "Total number of rejected requests by reason",
			},
			[]string{"reason"},
		),

		ArtifactsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grayavatar",
				Subsystem: "artifacts",
				Name:      "swept_total",
				Help:      "Total number of unclaimed artifacts removed after expiry",
			},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "grayavatar",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration by route and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Conversions,
		m.UploadBytes,
		m.Downloads,
		m.Rejections,
		m.ArtifactsSwept,
		m.RequestDuration,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Converted(ext string, size int64) {
	m.Conversions.WithLabelValues(ext).Inc()
	m.UploadBytes.Observe(float64(size))
}

func (m *Metrics) Downloaded(contentType string, _ int64) {
	m.Downloads.WithLabelValues(contentType).Inc()
}

func (m *Metrics) Rejected(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Swept(n int) {
	m.ArtifactsSwept.Add(float64(n))
}

// ObserveRequest records the duration of one HTTP request
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}
