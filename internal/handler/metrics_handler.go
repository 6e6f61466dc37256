package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ciphervault_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path", "status"})

	totalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphervault_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ciphervault_active_connections",
		Help: "Number of in-flight HTTP requests",
	})

	fileUploadSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ciphervault_file_upload_size_bytes",
		Help:    "Size of uploaded encrypted blobs in bytes",
		Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 100 * 1024 * 1024},
	})

	filesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ciphervault_files_uploaded_total",
		Help: "Total number of files uploaded",
	})

	linksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ciphervault_links_created_total",
		Help: "Total number of shareable links created",
	})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphervault_auth_failures_total",
		Help: "Total number of failed authentication attempts",
	}, []string{"reason"})

	keyServiceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ciphervault_key_service_failures_total",
		Help: "Total number of key-management service failures",
	})
)

// MetricsHandler exposes the Prometheus registry over HTTP.
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handler serves the default registry in Prometheus text format.
func (h *MetricsHandler) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// MetricsMiddleware records HTTP metrics for each request
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		activeConnections.Inc()
		defer activeConnections.Dec()
		start := time.Now()

		err := c.Next()

		// Label with the route pattern, not the raw path, to bound
		// cardinality.
		path := c.Route().Path
		if path == "" {
			path = "__unmatched__"
		}

		status := c.Response().StatusCode()
		statusClass := "2xx"
		switch {
		case status >= 500:
			statusClass = "5xx"
		case status >= 400:
			statusClass = "4xx"
		case status >= 300:
			statusClass = "3xx"
		}

		totalRequests.WithLabelValues(c.Method(), path, statusClass).Inc()
		httpDuration.WithLabelValues(c.Method(), path, statusClass).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordFileUpload records metrics for file uploads
func RecordFileUpload(size float64) {
	fileUploadSize.Observe(size)
	filesUploaded.Inc()
}

// RecordLinkCreated increments the shareable-link counter.
func RecordLinkCreated() {
	linksCreated.Inc()
}

// RecordAuthFailure increments the failed auth counter with a reason label.
func RecordAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

// RecordKeyServiceFailure increments the key-service failure counter.
func RecordKeyServiceFailure() {
	keyServiceFailures.Inc()
}
