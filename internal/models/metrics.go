package models

import "time"

// SystemMetrics summarises process-level counters for the admin metrics endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	EnrollmentsCreated       uint64    `json:"enrollments_created"`
	ProgressionCompletions   uint64    `json:"progression_completions"`
	CertificatesIssued       uint64    `json:"certificates_issued"`
	NotificationFailures     uint64    `json:"notification_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
