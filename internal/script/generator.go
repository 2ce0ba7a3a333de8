package script

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/perfbridge/perfbridge/internal/core"
	"github.com/perfbridge/perfbridge/internal/llm"
)

// Request carries the user-supplied context for script generation.
type Request struct {
	Prompt    string
	TechStack string
	TargetURL string
}

// Generator produces k6 test scripts from a completion service.
type Generator struct {
	llm    *llm.Client
	logger *slog.Logger
}

func NewGenerator(client *llm.Client, logger *slog.Logger) *Generator {
	return &Generator{llm: client, logger: logger}
}

// SystemPrompt is the fixed instruction block. The load profile (10s ramp to
// 10 VUs, 20s hold, 5s ramp-down) and the thresholds (p(95)<500, rate<0.01)
// are deliberate constants mirrored by the result formatter.
func SystemPrompt(targetURL string) string {
	return fmt.Sprintf(`You are an expert k6 performance test engineer. Generate a production-quality k6 test script.

STRICT RULES — follow every rule exactly:
1. Output ONLY raw JavaScript. No markdown code fences, no triple backticks, no explanation text.
2. Target base URL: %s
3. Use these exact stages:
     stages: [
       { duration: '10s', target: 10 },
       { duration: '20s', target: 10 },
       { duration: '5s',  target: 0  },
     ]
4. Use these exact thresholds:
     thresholds: {
       'http_req_duration': ['p(95)<500'],
       'http_req_failed':   ['rate<0.01'],
     }
5. Import http from 'k6/http'
6. Import { check, group, sleep } from 'k6'
7. Use: const TOKEN = __ENV.API_TOKEN || 'test-token';
8. Set Authorization: Bearer ${TOKEN} header on all requests.
9. Wrap each endpoint in a group() call.
10. Add check() for status code (2xx) and response time (< 500ms) in every group.
11. Call sleep(1) at the end of the default function.
12. Use realistic fake data for POST/PUT request bodies inferred from endpoint names.
13. If no specific endpoints can be inferred, test GET / and GET /health.
14. Export named options object and default function.`, targetURL)
}

// UserPrompt concatenates the caller-supplied context into the user message.
func UserPrompt(prompt, techStack string) string {
	return fmt.Sprintf(
		"Tech stack: %s\n\n%s\n\n"+
			"Based on the above, generate a k6 performance test script that tests the most likely "+
			"REST API endpoints this change touches or introduces. If no specific endpoints are "+
			"mentioned, generate a general health-check test for GET / and GET /health.",
		techStack, prompt)
}

var (
	leadingFence  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\n?")
	trailingFence = regexp.MustCompile("\n?```[ \t]*$")
)

// StripFences removes a single leading and trailing markdown code fence line
// that the model may add despite instructions, then trims whitespace.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// MissingConstructs reports required k6 constructs absent from a script.
func MissingConstructs(s string) []string {
	required := []string{"import http", "export default", "options"}
	var missing []string
	for _, r := range required {
		if !strings.Contains(s, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// Generate builds the prompt pair, calls the completion service, and returns
// the fence-stripped script text. Upstream failures are surfaced as-is.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}
	if strings.TrimSpace(req.TechStack) == "" {
		return "", fmt.Errorf("techStack is required")
	}
	targetURL := strings.TrimSpace(req.TargetURL)
	if targetURL == "" {
		targetURL = core.DefaultTargetURL
	}

	g.logger.Info("generating k6 script",
		"model", g.llm.Model(),
		"target_url", targetURL,
		"prompt_len", len(req.Prompt),
		"tech_stack", req.TechStack,
	)

	content, usage, err := g.llm.ChatCompletion(ctx, SystemPrompt(targetURL), UserPrompt(req.Prompt, req.TechStack))
	if err != nil {
		return "", err
	}

	g.logger.Info("completion finished",
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
	)

	cleaned := StripFences(content)
	if missing := MissingConstructs(cleaned); len(missing) > 0 {
		g.logger.Warn("generated script is missing expected constructs", "missing", missing)
	}
	return cleaned, nil
}
