package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the compiler.
type Metrics struct {
	CompilesTotal       *prometheus.CounterVec
	CompileDuration     prometheus.Histogram
	CompilesActive      prometheus.Gauge
	RankOpsEmittedTotal prometheus.Counter
	FusionRewritesTotal *prometheus.CounterVec
	ThreadblocksTotal   prometheus.Histogram
	ValidationFailures  *prometheus.CounterVec
	OracleChecksTotal   *prometheus.CounterVec

	CacheLookupsTotal  *prometheus.CounterVec
	CacheEntriesBytes  prometheus.Gauge
	CachePersistErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CompilesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectivec_compiles_total",
				Help: "Total compile runs, by outcome",
			},
			[]string{"outcome"},
		),

		CompileDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collectivec_compile_duration_seconds",
				Help:    "Compile wall-clock time distribution",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),

		CompilesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collectivec_compiles_active",
				Help: "Currently in-flight compiles",
			},
		),

		RankOpsEmittedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collectivec_rank_ops_emitted_total",
				Help: "Total primitive ops emitted into rank DAGs",
			},
		),

		FusionRewritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectivec_fusion_rewrites_total",
				Help: "Peephole fusion rewrites applied, by pass",
			},
			[]string{"pass"},
		),

		ThreadblocksTotal: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collectivec_threadblocks_per_rank",
				Help:    "Threadblocks assigned per rank",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),

		ValidationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectivec_validation_failures_total",
				Help: "Validation failures, by kind",
			},
			[]string{"kind"},
		),

		OracleChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectivec_oracle_checks_total",
				Help: "Collective correctness oracle invocations, by result",
			},
			[]string{"result"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectivec_cache_lookups_total",
				Help: "Compile cache lookups, by outcome",
			},
			[]string{"outcome"},
		),

		CacheEntriesBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collectivec_cache_entries_bytes",
				Help: "Approximate on-disk size of the compile cache",
			},
		),

		CachePersistErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "collectivec_cache_persist_errors_total",
				Help: "Errors persisting a compiled program to the cache",
			},
		),
	}
}

// RecordCompileStart marks a compile as in-flight.
func (m *Metrics) RecordCompileStart() {
	m.CompilesActive.Inc()
}

// RecordCompileComplete records compile completion metrics.
func (m *Metrics) RecordCompileComplete(success bool, durationSeconds float64) {
	m.CompilesActive.Dec()
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.CompilesTotal.WithLabelValues(outcome).Inc()
	m.CompileDuration.Observe(durationSeconds)
}

// RecordFusionRewrite increments the rewrite counter for one fusion pass.
func (m *Metrics) RecordFusionRewrite(pass string, count int) {
	m.FusionRewritesTotal.WithLabelValues(pass).Add(float64(count))
}

// RecordThreadblockCount observes the number of threadblocks assigned to a
// rank.
func (m *Metrics) RecordThreadblockCount(n int) {
	m.ThreadblocksTotal.Observe(float64(n))
}

// RecordValidationFailure increments the validation-failure counter for a
// given error kind (structural, shape, resource, graph).
func (m *Metrics) RecordValidationFailure(kind string) {
	m.ValidationFailures.WithLabelValues(kind).Inc()
}

// RecordOracleCheck records the result of the collective correctness
// oracle.
func (m *Metrics) RecordOracleCheck(passed bool) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.OracleChecksTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a compile cache lookup outcome ("hit" or
// "miss").
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
