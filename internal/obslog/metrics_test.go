package obslog

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers against Prometheus's default registry, which
// rejects a second registration of the same names, so the tests share
// one instance and each test exercises a different metric.
var (
	sharedMetricsOnce sync.Once
	sharedMetricsInst *Metrics
)

func sharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() { sharedMetricsInst = NewMetrics() })
	return sharedMetricsInst
}

func TestMetricsRecordLoopIteration(t *testing.T) {
	m := sharedMetrics()
	m.RecordLoopIteration("answer")
	m.RecordLoopIteration("answer")
	m.RecordLoopIteration("tool_calls")

	if got := testutil.ToFloat64(m.LoopIterations.WithLabelValues("answer")); got != 2 {
		t.Errorf("expected 2 answer iterations, got %v", got)
	}
	if got := testutil.ToFloat64(m.LoopIterations.WithLabelValues("tool_calls")); got != 1 {
		t.Errorf("expected 1 tool_calls iteration, got %v", got)
	}
}

func TestMetricsRecordToolInvocation(t *testing.T) {
	m := sharedMetrics()
	m.RecordToolInvocation("shell.run", "success")
	m.RecordToolInvocation("shell.run", "error")

	if got := testutil.ToFloat64(m.ToolInvocations.WithLabelValues("shell.run", "success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolInvocations.WithLabelValues("shell.run", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestMetricsRecordCircuitBreakerTransition(t *testing.T) {
	m := sharedMetrics()
	m.RecordCircuitBreakerTransition("primary", "closed", "open")

	if got := testutil.ToFloat64(m.CircuitBreakerTransitions.WithLabelValues("primary", "closed", "open")); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
}

func TestMetricsRecordEventDrop(t *testing.T) {
	m := sharedMetrics()
	m.RecordEventDrop("session-1")

	if got := testutil.ToFloat64(m.EventDrops.WithLabelValues("session-1")); got != 1 {
		t.Errorf("expected 1 drop, got %v", got)
	}
}

func TestMetricsObserveProviderCall(t *testing.T) {
	m := sharedMetrics()
	m.ObserveProviderCall("primary", "gpt-4", 2*time.Second)

	if got := testutil.CollectAndCount(m.ProviderCallDuration); got != 1 {
		t.Errorf("expected 1 histogram sample collected, got %d", got)
	}
}

func TestMetricsNilReceiverIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordLoopIteration("answer")
	m.RecordToolInvocation("tool", "success")
	m.RecordCircuitBreakerTransition("primary", "closed", "open")
	m.RecordEventDrop("session-1")
	m.ObserveProviderCall("primary", "gpt-4", time.Second)
}
