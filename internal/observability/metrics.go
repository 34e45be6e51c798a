package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the screening engine's Prometheus metrics. Dispatcher and
// worker-pool-specific counters live alongside their own packages; this set
// covers the cross-cutting HTTP, store, cache, and health surface.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	ScreeningsTotal    *prometheus.CounterVec
	ScreeningDuration  *prometheus.HistogramVec
	ScreeningHitsTotal *prometheus.CounterVec
	ScreeningScore     *prometheus.HistogramVec

	DBQueriesTotal  *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec

	RedisOperationsTotal   *prometheus.CounterVec
	RedisOperationDuration *prometheus.HistogramVec

	ServiceUptime   prometheus.Gauge
	ServiceHealthy  prometheus.Gauge
	LastHealthCheck prometheus.Gauge
}

// NewMetrics creates and registers the screening engine's Prometheus metrics.
func NewMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		ScreeningsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "screenings_total",
				Help:      "Total number of screening verdicts by status",
			},
			[]string{"status"},
		),
		ScreeningDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "screening_duration_seconds",
				Help:      "Screening match duration in seconds",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"status"},
		),
		ScreeningHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "screening_hits_total",
				Help:      "Total number of sanctions/PEP hits by risk level and regime",
			},
			[]string{"risk_level", "regime"},
		),
		ScreeningScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "screening_match_score",
				Help:      "Winning match score distribution",
				Buckets:   []float64{60, 70, 80, 85, 90, 95, 100},
			},
			[]string{"regime"},
		),

		DBQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "db_queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "table"},
		),

		RedisOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "redis_operations_total",
				Help:      "Total number of Redis operations",
			},
			[]string{"operation", "status"},
		),
		RedisOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "redis_operation_duration_seconds",
				Help:      "Redis operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
			},
			[]string{"operation"},
		),

		ServiceUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_uptime_seconds",
				Help:      "Service uptime in seconds",
			},
		),
		ServiceHealthy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_healthy",
				Help:      "Service health status (1 = healthy, 0 = unhealthy)",
			},
		),
		LastHealthCheck: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "last_health_check_timestamp",
				Help:      "Timestamp of last health check",
			},
		),
	}

	m.ServiceHealthy.Set(1)
	m.LastHealthCheck.SetToCurrentTime()

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// ScreeningHit describes one matched watchlist entry for metrics purposes.
type ScreeningHit struct {
	Regime string
	Score  float64
}

// RecordScreening records a screening verdict and its matched hits, if any.
func (m *Metrics) RecordScreening(status, riskLevel string, duration time.Duration, hits []ScreeningHit) {
	m.ScreeningsTotal.WithLabelValues(status).Inc()
	m.ScreeningDuration.WithLabelValues(status).Observe(duration.Seconds())

	for _, hit := range hits {
		m.ScreeningHitsTotal.WithLabelValues(riskLevel, hit.Regime).Inc()
		m.ScreeningScore.WithLabelValues(hit.Regime).Observe(hit.Score)
	}
}

// RecordDBQuery records a database query.
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueriesTotal.WithLabelValues(operation, table).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordRedisOperation records a Redis operation.
func (m *Metrics) RecordRedisOperation(operation, status string, duration time.Duration) {
	m.RedisOperationsTotal.WithLabelValues(operation, status).Inc()
	m.RedisOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateServiceHealth updates service health status.
func (m *Metrics) UpdateServiceHealth(healthy bool) {
	if healthy {
		m.ServiceHealthy.Set(1)
	} else {
		m.ServiceHealthy.Set(0)
	}
	m.LastHealthCheck.SetToCurrentTime()
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// StartUptimeTracking starts tracking service uptime.
func (m *Metrics) StartUptimeTracking(startTime time.Time) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			m.ServiceUptime.Set(time.Since(startTime).Seconds())
		}
	}()
}
