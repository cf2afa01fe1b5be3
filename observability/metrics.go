// Package observability provides vaultd's Prometheus metrics registry,
// grounded on the teacher's lazy-singleton ModuleMetrics pattern.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide vaultd metrics registry (namespace nhbvault).
type Metrics struct {
	guardAcquisitions *prometheus.CounterVec
	modeTransitions   *prometheus.CounterVec
	liquidations      *prometheus.CounterVec
	redemptionVolume  prometheus.Counter
	redemptionFee     prometheus.Histogram
	oracleLatency     prometheus.Histogram
	oracleAgeSeconds  prometheus.Gauge
	pendingTransfers  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the lazily-initialized metrics registry, registering its
// collectors with the default Prometheus registerer on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			guardAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbvault",
				Subsystem: "guard",
				Name:      "acquisitions_total",
				Help:      "Guard acquisition attempts segmented by operation and outcome.",
			}, []string{"op_name", "outcome"}),
			modeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbvault",
				Subsystem: "protocol",
				Name:      "mode_transitions_total",
				Help:      "Protocol mode transitions segmented by origin and destination mode.",
			}, []string{"from", "to"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbvault",
				Subsystem: "protocol",
				Name:      "liquidations_total",
				Help:      "Liquidations segmented by kind (full, partial).",
			}, []string{"kind"}),
			redemptionVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nhbvault",
				Subsystem: "protocol",
				Name:      "redemption_volume_st_total",
				Help:      "Cumulative ST base units redeemed.",
			}),
			redemptionFee: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "nhbvault",
				Subsystem: "protocol",
				Name:      "redemption_fee_ratio",
				Help:      "Distribution of the applied base rate at redemption time.",
				Buckets:   prometheus.LinearBuckets(0.005, 0.005, 10),
			}),
			oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "nhbvault",
				Subsystem: "oracle",
				Name:      "refresh_latency_seconds",
				Help:      "Latency of oracle price-refresh calls.",
				Buckets:   prometheus.DefBuckets,
			}),
			oracleAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhbvault",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the last accepted oracle quote.",
			}),
			pendingTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhbvault",
				Subsystem: "protocol",
				Name:      "pending_transfers",
				Help:      "Depth of the outbound pending-transfer queue.",
			}),
		}
		prometheus.MustRegister(
			metrics.guardAcquisitions,
			metrics.modeTransitions,
			metrics.liquidations,
			metrics.redemptionVolume,
			metrics.redemptionFee,
			metrics.oracleLatency,
			metrics.oracleAgeSeconds,
			metrics.pendingTransfers,
		)
	})
	return metrics
}

// ObserveGuard records a guard acquisition attempt's outcome ("acquired",
// "already_processing", "too_many_concurrent").
func (m *Metrics) ObserveGuard(opName, outcome string) {
	if m == nil {
		return
	}
	m.guardAcquisitions.WithLabelValues(opName, outcome).Inc()
}

// ObserveModeTransition records a Mode change.
func (m *Metrics) ObserveModeTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.modeTransitions.WithLabelValues(from, to).Inc()
}

// ObserveLiquidation records one liquidation of the given kind.
func (m *Metrics) ObserveLiquidation(kind string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(kind).Inc()
}

// ObserveRedemption records a completed redemption's gross volume and the
// base rate applied to it.
func (m *Metrics) ObserveRedemption(grossAmount uint64, feeRatio float64) {
	if m == nil {
		return
	}
	m.redemptionVolume.Add(float64(grossAmount))
	m.redemptionFee.Observe(feeRatio)
}

// ObserveOracleRefresh records the latency of an oracle fetch and the
// resulting quote's age.
func (m *Metrics) ObserveOracleRefresh(latencySeconds, ageSeconds float64) {
	if m == nil {
		return
	}
	m.oracleLatency.Observe(latencySeconds)
	m.oracleAgeSeconds.Set(ageSeconds)
}

// SetPendingTransfers reports the current pending-transfer queue depth.
func (m *Metrics) SetPendingTransfers(depth int) {
	if m == nil {
		return
	}
	m.pendingTransfers.Set(float64(depth))
}
