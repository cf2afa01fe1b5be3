package observability

import "testing"

func TestDefaultMetricsSingletonIsStable(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatalf("expected Default() to return the same registry instance")
	}
	a.ObserveGuard("open_vault", "acquired")
	a.ObserveModeTransition("normal", "recovery")
	a.ObserveLiquidation("full")
	a.ObserveRedemption(1000, 0.02)
	a.ObserveOracleRefresh(0.1, 30)
	a.SetPendingTransfers(3)
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveGuard("op", "acquired")
	m.ObserveModeTransition("a", "b")
	m.ObserveLiquidation("full")
	m.ObserveRedemption(1, 0.01)
	m.ObserveOracleRefresh(0.1, 1)
	m.SetPendingTransfers(0)
}
