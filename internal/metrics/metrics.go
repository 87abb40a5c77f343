package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tracks completed fee calculations by model version and resulting kind.
	FeeCalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_fee_calculations_total",
			Help: "Total number of completed fee calculations (by fee model version and detail kind).",
		},
		[]string{"version", "kind"},
	)

	// Tracks aborted fee calculations.
	FeeCalculationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_fee_calculation_errors_total",
			Help: "Total number of fee calculations that failed outright.",
		},
		[]string{"reason"},
	)

	// Tracks calculations that fell back to a lesser fee kind.
	FeeDegradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_fee_degradations_total",
			Help: "Number of fee calculations that degraded to a fallback kind.",
		},
		[]string{"reason"},
	)

	// Tracks the number of outbound calls to fee data sources.
	DataSourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_data_source_requests_total",
			Help: "Total number of data source requests made (by source and status).",
		},
		[]string{"source", "status"},
	)

	// Measures duration of data source requests.
	DataSourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfq_data_source_request_duration_seconds",
			Help:    "Duration of data source requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"source"},
	)

	// Tracks token price cache hits and misses.
	PriceCacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_price_cache_access_total",
			Help: "Number of cache hits/misses in the token price cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_engine_errors_total",
			Help: "Count of engine-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful fee configuration refresh (seconds since epoch).
	LastConfigRefreshTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rfq_last_config_refresh_timestamp",
			Help: "Timestamp (unix seconds) of the last successful fee configuration refresh.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncFeeCalculation(version int, kind string) {
	FeeCalculationsTotal.WithLabelValues(versionLabel(version), kind).Inc()
}

func IncFeeCalculationError(reason string) {
	FeeCalculationErrorsTotal.WithLabelValues(reason).Inc()
}

func IncFeeDegradation(reason string) {
	FeeDegradationsTotal.WithLabelValues(reason).Inc()
}

func IncDataSourceRequest(source, status string) {
	DataSourceRequestsTotal.WithLabelValues(source, status).Inc()
}

func IncPriceCacheAccess(result string) {
	PriceCacheAccess.WithLabelValues(result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastConfigRefresh(component string, t time.Time) {
	LastConfigRefreshTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}

func versionLabel(version int) string {
	switch version {
	case 0:
		return "v0"
	case 1:
		return "v1"
	case 2:
		return "v2"
	default:
		return "unknown"
	}
}

func StartServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(addr, nil) //nolint:errcheck
	}()
}
