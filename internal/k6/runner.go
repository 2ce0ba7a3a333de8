package k6

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/perfbridge/perfbridge/internal/core"
)

// stdoutTailChars is how much of the captured stdout travels back to the
// caller; the full text is persisted to output.txt in the output directory.
const stdoutTailChars = 1000

type Config struct {
	// Binary is the k6 executable name or path.
	Binary string
	// WorkDir is where the command runs; empty means the process working dir.
	WorkDir string
}

// Result is the payload returned for every completed run, successful or not.
// SummaryData is never nil; a missing or unparsable summary file degrades to
// an empty mapping.
type Result struct {
	ExitCode    int            `json:"exitCode"`
	Stdout      string         `json:"stdout"`
	Stderr      string         `json:"stderr"`
	SummaryData map[string]any `json:"summaryData"`
}

type Runner struct {
	cfg    Config
	logger *slog.Logger
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = core.DefaultK6Binary
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run writes the script to a per-invocation unique path inside outputDir,
// executes `k6 run --summary-export <summary> <script>`, and blocks until the
// process exits and both output streams are drained. A non-zero k6 exit is
// not an error here; it is reported through Result.ExitCode. No timeout is
// imposed — callers that need one wrap ctx.
func (r *Runner) Run(ctx context.Context, scriptContent, outputDir string) (Result, error) {
	if strings.TrimSpace(scriptContent) == "" {
		return Result{}, fmt.Errorf("scriptContent is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		outputDir = core.DefaultOutputDir
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir %s: %w", outputDir, err)
	}

	id := uuid.New().String()
	scriptPath := filepath.Join(outputDir, "script-"+id+".js")
	summaryPath := filepath.Join(outputDir, "summary-"+id+".json")

	if err := os.WriteFile(scriptPath, []byte(scriptContent), 0o644); err != nil {
		return Result{}, fmt.Errorf("write script: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.cfg.Binary, "run", "--summary-export", summaryPath, scriptPath)
	if r.cfg.WorkDir != "" {
		cmd.Dir = r.cfg.WorkDir
	}
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	r.logger.Info("running k6", "binary", r.cfg.Binary, "script", scriptPath, "summary", summaryPath)

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("start k6: %w", runErr)
		}
	}

	stdout := stdoutBuf.String()
	if err := os.WriteFile(filepath.Join(outputDir, "output.txt"), []byte(stdout), 0o644); err != nil {
		r.logger.Warn("persist k6 output failed", "err", err)
	}

	summary := r.readSummary(summaryPath)

	r.logger.Info("k6 run finished",
		"exit_code", exitCode,
		"stdout_bytes", len(stdout),
		"stderr_bytes", stderrBuf.Len(),
		"summary_metrics", len(summary),
	)

	return Result{
		ExitCode:    exitCode,
		Stdout:      tail(stdout, stdoutTailChars),
		Stderr:      stderrBuf.String(),
		SummaryData: summary,
	}, nil
}

// readSummary parses the exported summary file. Absence or malformed content
// degrades to an empty mapping; the run itself already succeeded or failed on
// its own terms.
func (r *Runner) readSummary(path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("summary file not readable", "path", path, "err", err)
		return map[string]any{}
	}
	var summary map[string]any
	if err := json.Unmarshal(raw, &summary); err != nil {
		r.logger.Warn("summary file not parsable", "path", path, "err", err)
		return map[string]any{}
	}
	if summary == nil {
		return map[string]any{}
	}
	return summary
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
