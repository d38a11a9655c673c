// Package metrics provides Prometheus metrics for dnsgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every dnsgate metric name.
const Namespace = "dnsgate"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
	ResultInvalid = "invalid"
)

var (
	// BuildInfo is always 1 and carries version labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information for dnsgate.",
	}, []string{"version", "go_version"})

	// OperationsTotal counts orchestrated change operations by outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "operations_total",
		Help:      "Change operations by operation and result.",
	}, []string{"operation", "result"})

	// PolicyDenialsTotal counts allow-list rejections. dimension is
	// "domain" or "subnet".
	PolicyDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "policy_denials_total",
		Help:      "Requests rejected by the allow-list.",
	}, []string{"dimension"})

	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "backend_duration_seconds",
		Help:      "Time spent in backend calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "sessions_active",
		Help:      "Number of cached per-user backend sessions.",
	})

	SessionConstructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "session_constructions_total",
		Help:      "Backend session constructions by result.",
	}, []string{"result"})

	SessionEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "session_evictions_total",
		Help:      "Sessions closed after sitting idle.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
)

// SetBuildInfo records the running version.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
