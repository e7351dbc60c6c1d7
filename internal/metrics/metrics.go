package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing, so components can take one optionally.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	httpResponseBytes    *prometheus.CounterVec

	// Storage metrics
	backendRequests  *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	archiveAnalyses  *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	downloadsTotal   *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),

		httpResponseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_response_bytes_total",
				Help: "Bytes written in HTTP response bodies",
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)
	reg.MustRegister(r.httpResponseBytes)

	r.backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataview_backend_requests_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"protocol", "op", "status"},
	)
	r.backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataview_backend_request_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol", "op"},
	)
	r.bytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataview_bytes_transferred_total",
			Help: "Bytes read from storage backends",
		},
		[]string{"protocol"},
	)
	r.archiveAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataview_archive_analyses_total",
			Help: "Total number of archive inspections",
		},
		[]string{"format", "status"},
	)
	r.sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataview_sessions_active",
			Help: "Number of open backend sessions",
		},
		[]string{"protocol"},
	)
	r.downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataview_downloads_total",
			Help: "Total number of file downloads",
		},
		[]string{"protocol", "status"},
	)

	reg.MustRegister(r.backendRequests)
	reg.MustRegister(r.backendDuration)
	reg.MustRegister(r.bytesTransferred)
	reg.MustRegister(r.archiveAnalyses)
	reg.MustRegister(r.sessionsActive)
	reg.MustRegister(r.downloadsTotal)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordBackendRequest records one backend operation. err decides the
// status label.
func (r *Registry) RecordBackendRequest(protocol, op string, err error, duration float64) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.backendRequests.WithLabelValues(protocol, op, status).Inc()
	r.backendDuration.WithLabelValues(protocol, op).Observe(duration)
}

// RecordResponseBytes counts response body bytes for a route.
func (r *Registry) RecordResponseBytes(path string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.httpResponseBytes.WithLabelValues(path).Add(float64(n))
}

// AddBytes counts bytes read for protocol.
func (r *Registry) AddBytes(protocol string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesTransferred.WithLabelValues(protocol).Add(float64(n))
}

// RecordArchiveAnalysis records an archive inspection outcome.
func (r *Registry) RecordArchiveAnalysis(format, status string) {
	if r == nil {
		return
	}
	r.archiveAnalyses.WithLabelValues(format, status).Inc()
}

// SessionOpened counts an open backend session.
func (r *Registry) SessionOpened(protocol string) {
	if r == nil {
		return
	}
	r.sessionsActive.WithLabelValues(protocol).Inc()
}

// SessionClosed uncounts a backend session.
func (r *Registry) SessionClosed(protocol string) {
	if r == nil {
		return
	}
	r.sessionsActive.WithLabelValues(protocol).Dec()
}

// RecordDownload records a completed or failed download.
func (r *Registry) RecordDownload(protocol string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.downloadsTotal.WithLabelValues(protocol, status).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
