package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eur",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PoolMetrics wraps collectors tracking lending pool health.
type PoolMetrics struct {
	mints        *prometheus.CounterVec
	burns        *prometheus.CounterVec
	liquidations prometheus.Counter
	collateral   *prometheus.GaugeVec
	supply       prometheus.Gauge
	pauseEngaged prometheus.Gauge
}

// Pool exposes the metrics registry for the lending pool engine.
func Pool() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			mints: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "pool",
				Name:      "mints_total",
				Help:      "Count of debt mints segmented by outcome.",
			}, []string{"outcome"}),
			burns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "pool",
				Name:      "burns_total",
				Help:      "Count of debt repayments segmented by outcome.",
			}, []string{"outcome"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "pool",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations.",
			}),
			collateral: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "eur",
				Subsystem: "pool",
				Name:      "collateral_units",
				Help:      "Total collateral held per asset in integer base units.",
			}, []string{"asset"}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "eur",
				Subsystem: "pool",
				Name:      "stable_supply_units",
				Help:      "Outstanding stablecoin supply in integer base units.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "eur",
				Subsystem: "pool",
				Name:      "pause_engaged",
				Help:      "Indicates whether the pool pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.mints,
			poolRegistry.burns,
			poolRegistry.liquidations,
			poolRegistry.collateral,
			poolRegistry.supply,
			poolRegistry.pauseEngaged,
		)
	})
	return poolRegistry
}

// RecordMint increments the mint counter for the supplied outcome.
func (m *PoolMetrics) RecordMint(err error) {
	if m == nil {
		return
	}
	m.mints.WithLabelValues(outcomeLabel(err)).Inc()
}

// RecordBurn increments the repayment counter for the supplied outcome.
func (m *PoolMetrics) RecordBurn(err error) {
	if m == nil {
		return
	}
	m.burns.WithLabelValues(outcomeLabel(err)).Inc()
}

// RecordLiquidation increments the liquidation counter.
func (m *PoolMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// RecordCollateral updates the collateral gauge for an asset.
func (m *PoolMetrics) RecordCollateral(asset string, total *big.Int) {
	if m == nil {
		return
	}
	m.collateral.WithLabelValues(labelAsset(asset)).Set(bigToFloat(total))
}

// RecordSupply updates the outstanding stablecoin supply gauge.
func (m *PoolMetrics) RecordSupply(total *big.Int) {
	if m == nil {
		return
	}
	m.supply.Set(bigToFloat(total))
}

// SetPause toggles the pause_engaged gauge.
func (m *PoolMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

// OracleMetrics bundles collectors for quote freshness tracking.
type OracleMetrics struct {
	staleQuotes *prometheus.CounterVec
	freshness   *prometheus.GaugeVec
}

// Oracle returns the metrics registry for price feed instrumentation.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			staleQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eur",
				Subsystem: "oracle",
				Name:      "stale_quotes_total",
				Help:      "Count of price lookups rejected because no fresh quote was available.",
			}, []string{"asset"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "eur",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the most recently served quote per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.staleQuotes, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordStaleQuote increments the stale quote counter for an asset.
func (m *OracleMetrics) RecordStaleQuote(asset string) {
	if m == nil {
		return
	}
	m.staleQuotes.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordFreshness records the age of the quote that was served.
func (m *OracleMetrics) RecordFreshness(asset string, age time.Duration) {
	if m == nil {
		return
	}
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.freshness.WithLabelValues(labelAsset(asset)).Set(seconds)
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
