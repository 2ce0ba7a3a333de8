package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	if c.baseURL != "http://localhost:11434" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	if c.Model() != "llama3" {
		t.Fatalf("model = %q", c.Model())
	}
	if c.temperature != 0.2 {
		t.Fatalf("temperature = %f", c.temperature)
	}
}

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://ollama:11434/"})
	if c.baseURL != "http://ollama:11434" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}

func TestChatCompletionRequestShape(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "reply text"}}},
			"usage":   map[string]int{"prompt_tokens": 120, "completion_tokens": 48, "total_tokens": 168},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "custom-model", Temperature: 0.7})
	got, usage, err := c.ChatCompletion(context.Background(), "sys prompt", "user prompt")
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got != "reply text" {
		t.Fatalf("reply = %q", got)
	}
	if usage.PromptTokens != 120 || usage.CompletionTokens != 48 || usage.TotalTokens != 168 {
		t.Fatalf("usage = %+v", usage)
	}
	if captured.Model != "custom-model" || captured.Stream || captured.Temperature != 0.7 {
		t.Fatalf("request payload = %+v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v", captured.Messages)
	}
}

func TestChatCompletionNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, _, err := c.ChatCompletion(context.Background(), "sys", "user")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Error(), "completion service HTTP 404") {
		t.Fatalf("message = %q", apiErr.Error())
	}
	if !strings.Contains(apiErr.Error(), "model not found") {
		t.Fatalf("body not surfaced: %q", apiErr.Error())
	}
	if apiErr.ErrorCode() != "upstream_service_failure" {
		t.Fatalf("code = %q", apiErr.ErrorCode())
	}
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, _, err := c.ChatCompletion(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestChatCompletionUnreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, _, err := c.ChatCompletion(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "completion service request") {
		t.Fatalf("error = %v", err)
	}
}
