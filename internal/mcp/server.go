package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/perfbridge/perfbridge/internal/core"
	gh "github.com/perfbridge/perfbridge/internal/github"
	"github.com/perfbridge/perfbridge/internal/k6"
	"github.com/perfbridge/perfbridge/internal/llm"
	"github.com/perfbridge/perfbridge/internal/report"
	"github.com/perfbridge/perfbridge/internal/script"
	"github.com/perfbridge/perfbridge/internal/telemetry"
)

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

const protocolVersion = "2024-11-05"

// Server dispatches tool calls arriving as newline-delimited JSON-RPC 2.0,
// either on stdio or on a TCP listener. Requests on one stream are handled
// strictly one at a time.
type Server struct {
	gen    *script.Generator
	runner *k6.Runner
	gh     *gh.Client // nil when report publishing is not configured
	addr   string
	logger *slog.Logger

	ln     net.Listener
	mu     sync.Mutex
	closed bool
}

func NewServer(addr string, gen *script.Generator, runner *k6.Runner, ghClient *gh.Client, logger *slog.Logger) *Server {
	return &Server{
		gen:    gen,
		runner: runner,
		gh:     ghClient,
		addr:   addr,
		logger: logger,
	}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServeStdio reads requests from stdin and writes responses to stdout until
// the host closes the pipe.
func (s *Server) ServeStdio() error {
	return s.ServeStream(os.Stdin, os.Stdout)
}

// ServeStream handles one request at a time from r, writing each response to
// w before reading the next line.
func (s *Server) ServeStream(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		s.handleLine(w, scanner.Bytes())
	}
	return scanner.Err()
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("mcp server starting", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("mcp accept error", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	if err := s.ServeStream(conn, conn); err != nil {
		s.logger.Error("mcp connection error", "err", err)
	}
}

func (s *Server) handleLine(w io.Writer, line []byte) {
	if len(line) == 0 {
		return
	}

	var req jsonRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(w, jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	// Notifications carry no id and expect no response.
	if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
		return
	}

	traceID := uuid.New().String()
	ctx := context.WithValue(context.Background(), ctxKeyTraceID, traceID)
	s.writeResponse(w, s.dispatch(ctx, req))
}

func (s *Server) writeResponse(w io.Writer, resp jsonRPCResponse) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	w.Write(data)
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	base := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		base.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": "perfbridge", "version": "0.1.0"},
		}
		return base

	case "ping":
		base.Result = map[string]any{}
		return base

	case "tools/list":
		base.Result = map[string]any{"tools": s.toolDefinitions()}
		return base

	case "tools/call":
		return s.handleToolCall(ctx, req, base)

	default:
		base.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return base
	}
}

func (s *Server) toolDefinitions() []map[string]any {
	defs := ToolDefinitions()
	if s.gh == nil {
		// Publisher tool is only advertised when configured.
		filtered := defs[:0]
		for _, d := range defs {
			if d["name"] != "post_pr_comment" {
				filtered = append(filtered, d)
			}
		}
		return filtered
	}
	return defs
}

func ToolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "generate_k6_script",
			"description": "Generate a k6 load-test script from a change description using the configured completion model",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prompt":    map[string]string{"type": "string", "description": "What changed and what to test"},
					"techStack": map[string]string{"type": "string", "description": "Detected tech stack, e.g. node or python"},
					"targetUrl": map[string]string{"type": "string", "description": "Base URL under test (default http://localhost:8080)"},
				},
				"required": []string{"prompt", "techStack"},
			},
		},
		{
			"name":        "run_k6_test",
			"description": "Run a k6 script and return exit code, output, and the parsed summary",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scriptContent": map[string]string{"type": "string", "description": "The k6 script to execute"},
					"outputDir":     map[string]string{"type": "string", "description": "Directory for the summary export (default k6-results)"},
				},
				"required": []string{"scriptContent"},
			},
		},
		{
			"name":        "format_results",
			"description": "Format a k6 summary as a markdown report with threshold verdicts",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"resultsJson": map[string]string{"type": "object", "description": "The parsed k6 summary JSON"},
					"exitCode":    map[string]string{"type": "integer", "description": "Exit code of the k6 run"},
					"stack":       map[string]string{"type": "string", "description": "Tech stack label for the report footer"},
					"outputTail":  map[string]string{"type": "string", "description": "Tail of the k6 console output to embed in a collapsible section"},
				},
				"required": []string{"resultsJson", "exitCode", "stack"},
			},
		},
		{
			"name":        "post_pr_comment",
			"description": "Post a markdown report as a comment on a pull request of the configured repository",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prNumber": map[string]string{"type": "integer", "description": "Pull request number"},
					"body":     map[string]string{"type": "string", "description": "Markdown comment body"},
				},
				"required": []string{"prNumber", "body"},
			},
		},
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req jsonRPCRequest, base jsonRPCResponse) jsonRPCResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		base.Error = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
		return base
	}

	traceID, _ := ctx.Value(ctxKeyTraceID).(string)
	start := time.Now()
	result := s.callTool(ctx, params.Name, params.Arguments)
	telemetry.ObserveToolDuration(params.Name, time.Since(start))

	status := "succeeded"
	if result.IsError {
		status = "failed"
	}
	telemetry.IncToolCall(params.Name, status)

	s.logger.Info("tool call completed",
		"trace_id", traceID,
		"tool_name", params.Name,
		"status", status,
		"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
	)

	base.Result = result
	return base
}

// callTool runs the named handler. Every failure path, including a panic in a
// handler, comes back as an error envelope; the dispatcher never crashes on a
// handler's behalf.
func (s *Server) callTool(ctx context.Context, name string, raw json.RawMessage) (result core.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool handler panicked", "tool_name", name, "panic", r)
			result = core.ErrorResult("%v", r)
		}
	}()

	switch name {
	case "generate_k6_script":
		return s.toolGenerateScript(ctx, raw)
	case "run_k6_test":
		return s.toolRunTest(ctx, raw)
	case "format_results":
		return s.toolFormatResults(raw)
	case "post_pr_comment":
		return s.toolPostPRComment(ctx, raw)
	default:
		return core.ErrorResult("unknown tool: %s", name)
	}
}

type generateScriptArgs struct {
	Prompt    string `json:"prompt"`
	TechStack string `json:"techStack"`
	TargetURL string `json:"targetUrl,omitempty"`
}

func (s *Server) toolGenerateScript(ctx context.Context, raw json.RawMessage) core.ToolResult {
	var args generateScriptArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return core.ErrorResult("invalid arguments: %s", err.Error())
	}

	text, err := s.gen.Generate(ctx, script.Request{
		Prompt:    args.Prompt,
		TechStack: args.TechStack,
		TargetURL: args.TargetURL,
	})
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			telemetry.IncUpstreamAPIError("chat completion", apiErr.StatusCode)
		}
		return s.toolError(ctx, "generate_k6_script", err)
	}
	return core.TextResult(text)
}

type runTestArgs struct {
	ScriptContent string `json:"scriptContent"`
	OutputDir     string `json:"outputDir,omitempty"`
}

func (s *Server) toolRunTest(ctx context.Context, raw json.RawMessage) core.ToolResult {
	var args runTestArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return core.ErrorResult("invalid arguments: %s", err.Error())
	}

	res, err := s.runner.Run(ctx, args.ScriptContent, args.OutputDir)
	if err != nil {
		telemetry.IncK6Run("error")
		return s.toolError(ctx, "run_k6_test", err)
	}
	if res.ExitCode == 0 {
		telemetry.IncK6Run("passed")
	} else {
		telemetry.IncK6Run("failed")
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return s.toolError(ctx, "run_k6_test", fmt.Errorf("marshal run result: %w", err))
	}
	return core.TextResult(string(payload))
}

type formatResultsArgs struct {
	ResultsJSON map[string]any `json:"resultsJson"`
	ExitCode    int            `json:"exitCode"`
	Stack       string         `json:"stack"`
	OutputTail  string         `json:"outputTail,omitempty"`
}

func (s *Server) toolFormatResults(raw json.RawMessage) core.ToolResult {
	var args formatResultsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return core.ErrorResult("invalid arguments: %s", err.Error())
	}

	table := report.Render(report.Input{
		Summary:    args.ResultsJSON,
		ExitCode:   args.ExitCode,
		Stack:      args.Stack,
		OutputTail: args.OutputTail,
	})
	return core.TextResult(table)
}

type postPRCommentArgs struct {
	PRNumber int    `json:"prNumber"`
	Body     string `json:"body"`
}

func (s *Server) toolPostPRComment(ctx context.Context, raw json.RawMessage) core.ToolResult {
	if s.gh == nil {
		return core.ErrorResult("report publishing is not configured")
	}

	var args postPRCommentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return core.ErrorResult("invalid arguments: %s", err.Error())
	}
	if args.PRNumber <= 0 {
		return core.ErrorResult("prNumber must be positive")
	}
	if strings.TrimSpace(args.Body) == "" {
		return core.ErrorResult("body is required")
	}

	comment, err := s.gh.CreatePRComment(ctx, args.PRNumber, args.Body)
	if err != nil {
		var apiErr *gh.APIError
		if errors.As(err, &apiErr) {
			telemetry.IncUpstreamAPIError(apiErr.Operation, apiErr.StatusCode)
		}
		return s.toolError(ctx, "post_pr_comment", err)
	}

	payload, marshalErr := json.Marshal(map[string]any{
		"repo":     s.gh.Repo(),
		"prNumber": args.PRNumber,
		"htmlUrl":  comment.HTMLURL,
	})
	if marshalErr != nil {
		return s.toolError(ctx, "post_pr_comment", marshalErr)
	}
	return core.TextResult(string(payload))
}

// toolError logs the classified failure and wraps the message in an error
// envelope. The caller sees the message verbatim.
func (s *Server) toolError(ctx context.Context, toolName string, err error) core.ToolResult {
	traceID, _ := ctx.Value(ctxKeyTraceID).(string)
	info := core.MapError(err)
	s.logger.Error("tool call failed",
		"trace_id", traceID,
		"tool_name", toolName,
		"code", info.Code,
		"err", err,
	)
	return core.ErrorResult("%s", info.Message)
}
