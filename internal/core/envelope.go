package core

import "fmt"

// ContentBlock is one ordered element of a tool result. Only text blocks are
// produced today; the tagged shape matches what MCP clients expect.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the uniform envelope returned by every tool invocation.
// A handler failure sets IsError and carries the message in a text block;
// transport-level problems (malformed JSON-RPC) never use this shape.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func ErrorResult(format string, args ...any) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
