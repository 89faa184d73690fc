package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordTurn("complete")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "conductor_turns_total" {
			found = true
		}
	}
	if !found {
		t.Error("conductor_turns_total not registered")
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Each registry owns its own collectors, so constructing twice must not panic.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordProviderRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordProviderRequest("anthropic", "claude", "success", 0.5, 100, 20)
	m.RecordProviderRequest("anthropic", "claude", "context_length_exceeded", 0.1, 0, 0)

	expected := `
		# HELP conductor_tokens_total Total number of tokens used by provider, model, and type
		# TYPE conductor_tokens_total counter
		conductor_tokens_total{model="claude",provider="anthropic",type="input"} 100
		conductor_tokens_total{model="claude",provider="anthropic",type="output"} 20
	`
	if err := testutil.CollectAndCompare(m.TokensUsed, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.ProviderRequestCounter); count != 2 {
		t.Errorf("Expected 2 label combinations, got %d", count)
	}
}

func TestRecordPermissionAndTruncation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordPermission("approved", 3)
	m.RecordPermission("denied", 0)
	m.RecordTruncation("retried")
	m.RecordTruncation("retried")
	m.RecordTruncation("exhausted")

	if got := testutil.ToFloat64(m.PermissionDecisions.WithLabelValues("approved")); got != 3 {
		t.Errorf("approved = %v, want 3", got)
	}
	if count := testutil.CollectAndCount(m.PermissionDecisions); count != 1 {
		t.Errorf("zero-count outcome should not create a series, got %d", count)
	}
	if got := testutil.ToFloat64(m.TruncationAttempts.WithLabelValues("retried")); got != 2 {
		t.Errorf("retried = %v, want 2", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordProviderRequest("p", "m", "success", 1, 1, 1)
	m.RecordToolExecution("t", "success", 1)
	m.RecordPermission("approved", 1)
	m.RecordTruncation("retried")
	m.RecordTurn("complete")
	m.RecordError("loop", "x")
}
