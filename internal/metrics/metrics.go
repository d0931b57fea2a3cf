package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numverify_verifications_total",
			Help: "Verification and retrieval outcomes by operation and status",
		},
		[]string{"operation", "status"}, // verify|retrieve , MATCH|MISMATCH|error
	)

	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "numverify_rate_limit_rejections_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)

	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numverify_audit_write_failures_total",
			Help: "Audit writes that failed, by stage",
		},
		[]string{"stage"}, // save|publish|sink
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "numverify_provider_request_duration_seconds",
			Help:    "Telecom provider call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"}, // verify|retrieve , ok|error|rejected|cancelled
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; later calls are no-ops so the
// serve and worker commands can share it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			VerificationsTotal,
			RateLimitRejections,
			AuditWriteFailures,
			ProviderRequestDuration,
		)
	})
}
