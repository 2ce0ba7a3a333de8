package report

import (
	"fmt"
	"strings"
)

// Fixed pass/fail thresholds, mirrored from the generated script's options.
const (
	ThresholdP95Millis    = 500.0
	ThresholdErrorRate    = 0.01 // fraction
	thresholdP95Label     = "< 500 ms"
	thresholdErrRateLabel = "< 1%"
)

const (
	glyphPass = "✅"
	glyphFail = "❌"
	glyphInfo = "—"
)

// Input is everything the formatter consumes. Summary follows the k6
// summary-export shape (metrics.<name>.values.<stat>); any missing branch
// defaults to zero. OutputTail, when present, is rendered in a details block.
type Input struct {
	Summary    map[string]any
	ExitCode   int
	Stack      string
	OutputTail string
}

// MetricValue traverses summary["metrics"][metric]["values"][key], returning
// zero when any step is absent or not the expected shape.
func MetricValue(summary map[string]any, metric, key string) float64 {
	metrics, ok := summary["metrics"].(map[string]any)
	if !ok {
		return 0
	}
	entry, ok := metrics[metric].(map[string]any)
	if !ok {
		return 0
	}
	values, ok := entry["values"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Render produces the markdown report. It never fails: absent metrics render
// as zero-valued rows and the thresholds are applied to the defaults.
func Render(in Input) string {
	p95 := MetricValue(in.Summary, "http_req_duration", "p(95)")
	p99 := MetricValue(in.Summary, "http_req_duration", "p(99)")
	avg := MetricValue(in.Summary, "http_req_duration", "avg")
	min := MetricValue(in.Summary, "http_req_duration", "min")
	max := MetricValue(in.Summary, "http_req_duration", "max")
	errRate := MetricValue(in.Summary, "http_req_failed", "rate")
	rps := MetricValue(in.Summary, "http_reqs", "rate")
	total := MetricValue(in.Summary, "http_reqs", "count")
	maxVUs := MetricValue(in.Summary, "vus_max", "max")

	p95Pass := p95 < ThresholdP95Millis
	errPass := errRate < ThresholdErrorRate
	allPass := in.ExitCode == 0 && p95Pass && errPass

	overallGlyph := glyphFail
	overallLabel := "One or more thresholds FAILED"
	if allPass {
		overallGlyph = glyphPass
		overallLabel = "All thresholds passed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s k6 Performance Test Results\n\n", overallGlyph)
	fmt.Fprintf(&b, "**%s** (exit code: %d)\n\n", overallLabel, in.ExitCode)
	b.WriteString("### 📊 Metrics\n\n")
	b.WriteString("| Metric | Value | Threshold | Status |\n")
	b.WriteString("|--------|-------|-----------|--------|\n")
	fmt.Fprintf(&b, "| P95 Response Time | %.2f ms | %s | %s |\n", p95, thresholdP95Label, statusGlyph(p95Pass))
	fmt.Fprintf(&b, "| P99 Response Time | %.2f ms | %s | %s |\n", p99, glyphInfo, glyphInfo)
	fmt.Fprintf(&b, "| Avg Response Time | %.2f ms | %s | %s |\n", avg, glyphInfo, glyphInfo)
	fmt.Fprintf(&b, "| Min Response Time | %.2f ms | %s | %s |\n", min, glyphInfo, glyphInfo)
	fmt.Fprintf(&b, "| Max Response Time | %.2f ms | %s | %s |\n", max, glyphInfo, glyphInfo)
	fmt.Fprintf(&b, "| Error Rate | %.4f%% | %s | %s |\n", errRate*100, thresholdErrRateLabel, statusGlyph(errPass))
	fmt.Fprintf(&b, "| Throughput (RPS) | %.2f req/s | %s | %s |\n", rps, glyphInfo, glyphInfo)
	fmt.Fprintf(&b, "| Total Requests | %d | %s | %s |\n", int64(total), glyphInfo, glyphInfo)
	fmt.Fprintf(&b, "| Max VUs | %d | %s | %s |\n", int64(maxVUs), glyphInfo, glyphInfo)
	b.WriteString("\n### 🏁 Verdict\n\n")
	if allPass {
		b.WriteString("**✅ All performance thresholds passed.** This change meets the required performance standards.\n")
	} else {
		b.WriteString("**❌ Performance thresholds FAILED.** Please investigate the issues above before merging. Check the k6 output and the results directory for the raw data.\n")
	}

	if strings.TrimSpace(in.OutputTail) != "" {
		b.WriteString("\n<details>\n<summary>📋 k6 Output</summary>\n\n```\n")
		b.WriteString(strings.TrimSpace(in.OutputTail))
		b.WriteString("\n```\n\n</details>\n")
	}

	fmt.Fprintf(&b, "\n---\n*Powered by [k6](https://k6.io) · Stack: `%s`*\n", in.Stack)
	return b.String()
}

func statusGlyph(pass bool) string {
	if pass {
		return glyphPass
	}
	return glyphFail
}
