package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/elearning-api/internal/models"
)

// Notification delivery outcomes.
const (
	NotificationResultSent    = "sent"
	NotificationResultFailed  = "failed"
	NotificationResultDropped = "dropped"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	enrollmentsCreated     prometheus.Counter
	enrollmentConflicts    prometheus.Counter
	progressionCompletions prometheus.Counter
	certificatesIssued     prometheus.Counter
	certificateRaces       prometheus.Counter
	certificateDeferred    prometheus.Counter
	notificationsSent      *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	enrollmentCount      uint64
	completionCount      uint64
	certificateCount     uint64
	notifyFailureCount   uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	enrollmentsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_created_total",
		Help: "Enrollments created",
	})

	enrollmentConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_conflicts_total",
		Help: "Enrollment attempts rejected because the pair already exists",
	})

	progressionCompletions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progression_completions_total",
		Help: "Progressions that reached 100 percent for the first time",
	})

	certificatesIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certificates_issued_total",
		Help: "Certificates persisted",
	})

	certificateRaces := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certificate_issue_races_total",
		Help: "Issuance attempts that lost the uniqueness race and returned the existing certificate",
	})

	certificateDeferred := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certificate_issue_deferred_total",
		Help: "Issuance attempts deferred because rendering or storage failed",
	})

	notificationsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notification deliveries by sink and result",
	}, []string{"sink", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		enrollmentsCreated, enrollmentConflicts, progressionCompletions, certificatesIssued, certificateRaces, certificateDeferred,
		notificationsSent, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:               registry,
		handler:                handler,
		requestDuration:        requestDuration,
		requestTotal:           requestTotal,
		cacheLatency:           cacheLatency,
		cacheWrite:             cacheWrite,
		cacheHitRatio:          cacheHitRatio,
		cacheHits:              cacheHits,
		cacheMisses:            cacheMisses,
		enrollmentsCreated:     enrollmentsCreated,
		enrollmentConflicts:    enrollmentConflicts,
		progressionCompletions: progressionCompletions,
		certificatesIssued:     certificatesIssued,
		certificateRaces:       certificateRaces,
		certificateDeferred:    certificateDeferred,
		notificationsSent:      notificationsSent,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// IncEnrollmentCreated counts a committed enrollment.
func (m *MetricsService) IncEnrollmentCreated() {
	if m == nil {
		return
	}
	m.enrollmentsCreated.Inc()
	atomic.AddUint64(&m.enrollmentCount, 1)
}

// IncEnrollmentConflict counts a rejected duplicate enrollment.
func (m *MetricsService) IncEnrollmentConflict() {
	if m == nil {
		return
	}
	m.enrollmentConflicts.Inc()
}

// IncProgressionCompleted counts a first-time completion.
func (m *MetricsService) IncProgressionCompleted() {
	if m == nil {
		return
	}
	m.progressionCompletions.Inc()
	atomic.AddUint64(&m.completionCount, 1)
}

// IncCertificateIssued counts a persisted certificate.
func (m *MetricsService) IncCertificateIssued() {
	if m == nil {
		return
	}
	m.certificatesIssued.Inc()
	atomic.AddUint64(&m.certificateCount, 1)
}

// IncCertificateRace counts an issuance that lost the uniqueness race.
func (m *MetricsService) IncCertificateRace() {
	if m == nil {
		return
	}
	m.certificateRaces.Inc()
}

// IncCertificateDeferred counts an issuance postponed by a collaborator failure.
func (m *MetricsService) IncCertificateDeferred() {
	if m == nil {
		return
	}
	m.certificateDeferred.Inc()
}

// RecordNotification counts a delivery outcome for the given sink.
func (m *MetricsService) RecordNotification(sink, result string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(sink, result).Inc()
	if result != NotificationResultSent {
		atomic.AddUint64(&m.notifyFailureCount, 1)
	}
}

// Snapshot returns aggregated metrics suitable for the admin summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		EnrollmentsCreated:       atomic.LoadUint64(&m.enrollmentCount),
		ProgressionCompletions:   atomic.LoadUint64(&m.completionCount),
		CertificatesIssued:       atomic.LoadUint64(&m.certificateCount),
		NotificationFailures:     atomic.LoadUint64(&m.notifyFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
