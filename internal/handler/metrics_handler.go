package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// MetricsHandler serves the Prometheus text exposition.
type MetricsHandler struct {
	gatherer prometheus.Gatherer
}

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sharegate_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path", "status"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharegate_active_connections",
		Help: "Number of active connections",
	})

	totalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	fileUploadSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharegate_file_upload_size_bytes",
		Help:    "Size of uploaded files in bytes",
		Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 100 * 1024 * 1024},
	})

	filesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharegate_files_uploaded_total",
		Help: "Total number of files uploaded",
	})

	linksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_links_created_total",
		Help: "Links created, by kind (secure, short) and mode (direct, mediated, protected, open)",
	}, []string{"kind", "mode"})

	linkAccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_link_accesses_total",
		Help: "Link resolutions, by kind and outcome",
	}, []string{"kind", "outcome"})

	passwordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_link_password_failures_total",
		Help: "Wrong or missing link passwords, by link kind",
	}, []string{"kind"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_rate_limited_total",
		Help: "Requests rejected by a rate limiter, by scope",
	}, []string{"scope"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_auth_failures_total",
		Help: "Total number of failed authentication attempts",
	}, []string{"reason"})
)

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{gatherer: prometheus.DefaultGatherer}
}

// Handler returns the Prometheus metrics handler for Fiber
func (h *MetricsHandler) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		mfs, err := h.gatherer.Gather()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Failed to gather metrics")
		}

		var sb strings.Builder
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString("Failed to format metrics")
			}
		}

		c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		return c.SendString(sb.String())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// MetricsMiddleware records HTTP metrics for each request
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		activeConnections.Inc()
		defer activeConnections.Dec()
		start := time.Now()

		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = "__unmatched__"
		}
		status := statusClass(c.Response().StatusCode())

		totalRequests.WithLabelValues(c.Method(), path, status).Inc()
		httpDuration.WithLabelValues(c.Method(), path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

func RecordFileUpload(size float64) {
	fileUploadSize.Observe(size)
	filesUploaded.Inc()
}

func RecordLinkCreated(kind, mode string) {
	linksCreated.WithLabelValues(kind, mode).Inc()
}

func RecordLinkAccess(kind, outcome string) {
	linkAccesses.WithLabelValues(kind, outcome).Inc()
}

func RecordPasswordFailure(kind string) {
	passwordFailures.WithLabelValues(kind).Inc()
}

func RecordRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

// RecordAuthFailure increments the failed auth counter with a reason label.
func RecordAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}
