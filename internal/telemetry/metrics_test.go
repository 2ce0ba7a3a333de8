package telemetry

import (
	"strings"
	"testing"
	"time"
)

func resetRegistry() {
	defaultRegistry = newRegistry()
}

func TestToolCallCounters(t *testing.T) {
	resetRegistry()
	IncToolCall("run_k6_test", "succeeded")
	IncToolCall("run_k6_test", "succeeded")
	IncToolCall("run_k6_test", "failed")
	IncToolCall("format_results", "succeeded")

	out := RenderPrometheus()
	for _, want := range []string{
		`perfbridge_tool_calls_total{tool="format_results",status="succeeded"} 1`,
		`perfbridge_tool_calls_total{tool="run_k6_test",status="failed"} 1`,
		`perfbridge_tool_calls_total{tool="run_k6_test",status="succeeded"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDurationBuckets(t *testing.T) {
	resetRegistry()
	ObserveToolDuration("run_k6_test", 50*time.Millisecond) // le=0.1
	ObserveToolDuration("run_k6_test", 3*time.Second)       // le=5
	ObserveToolDuration("run_k6_test", 2*time.Minute)       // +Inf

	out := RenderPrometheus()
	for _, want := range []string{
		`perfbridge_tool_duration_seconds_bucket{tool="run_k6_test",le="0.1"} 1`,
		`perfbridge_tool_duration_seconds_bucket{tool="run_k6_test",le="5"} 1`,
		`perfbridge_tool_duration_seconds_bucket{tool="run_k6_test",le="+Inf"} 1`,
		`perfbridge_tool_duration_seconds_bucket{tool="run_k6_test",le="2"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestK6RunAndUpstreamErrorCounters(t *testing.T) {
	resetRegistry()
	IncK6Run("passed")
	IncK6Run("failed")
	IncK6Run("failed")
	IncUpstreamAPIError("chat completion", 503)
	IncUpstreamAPIError("create pr comment", 404)
	IncUpstreamAPIError("create pr comment", 404)

	out := RenderPrometheus()
	for _, want := range []string{
		`perfbridge_k6_runs_total{outcome="failed"} 2`,
		`perfbridge_k6_runs_total{outcome="passed"} 1`,
		`perfbridge_upstream_api_errors_total{operation="chat completion",status_code="503"} 1`,
		`perfbridge_upstream_api_errors_total{operation="create pr comment",status_code="404"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderEmptyRegistryHasTypeHeadersOnly(t *testing.T) {
	resetRegistry()
	out := RenderPrometheus()
	for _, want := range []string{
		"# TYPE perfbridge_tool_calls_total counter",
		"# TYPE perfbridge_k6_runs_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{") {
		t.Fatalf("empty registry rendered samples:\n%s", out)
	}
}
