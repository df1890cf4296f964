package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if NewCollector(reg) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordAPICall_CountsByOperationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAPICall("create_post", "success", 20*time.Millisecond)
	c.RecordAPICall("create_post", "success", 30*time.Millisecond)
	c.RecordAPICall("create_post", "status_error", 10*time.Millisecond)

	m := findMetric(t, reg, "blogdash_api_calls_total", map[string]string{"operation": "create_post", "outcome": "success"})
	if m == nil {
		t.Fatal("blogdash_api_calls_total{create_post,success} not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("api_calls_total = %v, want 2", v)
	}

	h := findMetric(t, reg, "blogdash_api_latency_seconds", map[string]string{"operation": "create_post"})
	if h == nil {
		t.Fatal("blogdash_api_latency_seconds not found")
	}
	if n := h.GetHistogram().GetSampleCount(); n != 3 {
		t.Errorf("latency sample count = %d, want 3", n)
	}
}

func TestRecordAPICall_PreconditionSkipsLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAPICall("delete_post", "precondition", 0)

	if m := findMetric(t, reg, "blogdash_api_calls_total", map[string]string{"outcome": "precondition"}); m == nil {
		t.Error("precondition outcome should be counted")
	}
	if h := findMetric(t, reg, "blogdash_api_latency_seconds", map[string]string{"operation": "delete_post"}); h != nil {
		t.Error("calls that were never sent should not be observed")
	}
}

func TestRecordSignIn_And_SessionState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignIn("failure")
	c.RecordSessionState("authenticated")
	c.RecordSessionState("authenticated")

	if m := findMetric(t, reg, "blogdash_sign_in_total", map[string]string{"outcome": "failure"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("sign_in_total{failure} should be 1")
	}
	if m := findMetric(t, reg, "blogdash_session_transitions_total", map[string]string{"state": "authenticated"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("session_transitions_total{authenticated} should be 2")
	}
}

func TestRecordHTTPStatus_LabelsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(303)

	if m := findMetric(t, reg, "blogdash_http_status_total", map[string]string{"status_code": "303"}); m == nil {
		t.Error("http_status_total{303} not found")
	}
}
