package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Created         prometheus.Counter
	Rejections      *prometheus.CounterVec
	Lookups         *prometheus.CounterVec
	UploadBytes     prometheus.Histogram
	MirrorFailures  prometheus.Counter
	CatalogFailures prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors, plus Go runtime and process
// collectors, with reg.
func NewMetrics(reg *prometheus.Registry, version, commit string) *Metrics {
	f := promauto.With(reg)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pfd_build_info",
			Help: "Build information",
		},
		[]string{"version", "commit"},
	).WithLabelValues(version, commit).Set(1)

	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfd_http_requests_total",
				Help: "HTTP requests by status code",
			},
			[]string{"code"},
		),
		Created: f.NewCounter(prometheus.CounterOpts{
			Name: "pfd_submissions_created_total",
			Help: "Submissions stored",
		}),
		Rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfd_submission_rejections_total",
				Help: "Submissions refused, by reason",
			},
			[]string{"reason"},
		),
		Lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfd_lookups_total",
				Help: "Details and download lookups by outcome",
			},
			[]string{"op", "result"},
		),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pfd_upload_bytes",
			Help:    "Size of stored PDF attachments",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		MirrorFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pfd_mirror_failures_total",
			Help: "Submissions that could not be copied to object storage",
		}),
		CatalogFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pfd_catalog_failures_total",
			Help: "Submissions that could not be indexed",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
