package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewUsesPrivateRegistryByDefault(t *testing.T) {
	m1 := New(nil)
	m2 := New(nil)
	m1.RecordQuery("success", time.Second, 3)
	if got := counterValue(t, m2.QueryTotal.WithLabelValues("success")); got != 0 {
		t.Fatalf("expected independent registries, got cross-talk: %v", got)
	}
}

func TestRecordQueryIncrementsCounters(t *testing.T) {
	m := New(nil)
	m.RecordQuery("success", 2*time.Second, 5)
	if got := counterValue(t, m.QueryTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("QueryTotal = %v, want 1", got)
	}
}

func TestRecordTokensSplitsInputOutput(t *testing.T) {
	m := New(nil)
	m.RecordTokens("planner", 100, 40)
	m.RecordTokens("planner", 10, 5)
	if got := counterValue(t, m.TokensTotal.WithLabelValues("planner", "input")); got != 110 {
		t.Fatalf("input tokens = %v, want 110", got)
	}
	if got := counterValue(t, m.TokensTotal.WithLabelValues("planner", "output")); got != 45 {
		t.Fatalf("output tokens = %v, want 45", got)
	}
}

func TestPoolGauges(t *testing.T) {
	m := New(nil)
	m.SetPoolSize(4)
	m.SetPoolInUse(2)
	if got := gaugeValue(t, m.PoolSize); got != 4 {
		t.Fatalf("PoolSize = %v, want 4", got)
	}
	if got := gaugeValue(t, m.PoolInUse); got != 2 {
		t.Fatalf("PoolInUse = %v, want 2", got)
	}
}

func TestRecordVerificationAndExecutorDiscarded(t *testing.T) {
	m := New(nil)
	m.RecordVerification("citations", "pass")
	m.RecordVerification("citations", "fail")
	m.RecordExecutorDiscarded("died")
	if got := counterValue(t, m.VerificationTotal.WithLabelValues("citations", "pass")); got != 1 {
		t.Fatalf("verification pass = %v, want 1", got)
	}
	if got := counterValue(t, m.ExecutorDiscarded.WithLabelValues("died")); got != 1 {
		t.Fatalf("executor discarded = %v, want 1", got)
	}
}
