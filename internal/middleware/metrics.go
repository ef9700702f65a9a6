package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	updatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpi_bot_updates_received_total",
		Help: "Total number of updates received",
	}, []string{"kind"})

	updatesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpi_bot_updates_processed_total",
		Help: "Total number of updates processed",
	}, []string{"status"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpi_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	unauthorizedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpi_bot_unauthorized_updates_total",
		Help: "Total number of updates dropped because the sender is not whitelisted",
	})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpi_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})

	ipLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpi_bot_ip_lookups_total",
		Help: "Total number of external IP lookups per source",
	}, []string{"source", "status"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpi_bot_ip_cache_hits_total",
		Help: "Total number of external IP cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpi_bot_ip_cache_misses_total",
		Help: "Total number of external IP cache misses",
	})

	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpi_bot_notifications_sent_total",
		Help: "Total number of unsolicited notifications sent",
	}, []string{"kind", "status"})

	imagesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpi_bot_images_saved_total",
		Help: "Total number of archived images",
	}, []string{"kind"})

	imageBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpi_bot_image_bytes_total",
		Help: "Total bytes written to the image archive",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpi_bot_job_duration_seconds",
		Help:    "Duration of scheduled job runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job", "status"})

	sessionRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpi_bot_session_restarts_total",
		Help: "Total number of bot sessions restarted after a transient failure",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordUpdateReceived(kind string) {
	updatesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordUpdateProcessed(status string) {
	updatesProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

func (m *Metrics) RecordUnauthorized() {
	unauthorizedUpdates.Inc()
}

func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordIPLookup records one IP-echo source attempt
func (m *Metrics) RecordIPLookup(source, status string) {
	ipLookups.WithLabelValues(source, status).Inc()
}

func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

func (m *Metrics) RecordNotification(kind, status string) {
	notificationsSent.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordImageSaved(kind string, size int64) {
	imagesSaved.WithLabelValues(kind).Inc()
	imageBytes.Add(float64(size))
}

func (m *Metrics) RecordJob(job, status string, duration time.Duration) {
	jobDuration.WithLabelValues(job, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordSessionRestart() {
	sessionRestarts.Inc()
}

// NewMetricsRouter serves the metrics handler at path and a /health probe
func NewMetricsRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return router
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
