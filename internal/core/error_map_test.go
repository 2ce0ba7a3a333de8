package core

import (
	"errors"
	"fmt"
	"testing"
)

type stubCoded struct{ code string }

func (s *stubCoded) Error() string     { return "stub failure" }
func (s *stubCoded) ErrorCode() string { return s.code }

func TestMapErrorCodedErrorWins(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &stubCoded{code: "upstream_service_failure"})
	info := MapError(err)
	if info.Code != "upstream_service_failure" {
		t.Fatalf("code = %q", info.Code)
	}
	if info.Message != err.Error() {
		t.Fatalf("message = %q", info.Message)
	}
}

func TestMapErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{errors.New(`completion service HTTP 500: {"error":"boom"}`), "upstream_service_failure"},
		{errors.New("completion service request: dial tcp: connection refused"), "upstream_unreachable"},
		{errors.New("unknown tool: frobnicate"), "unknown_tool"},
		{errors.New("techStack is required"), "invalid_arguments"},
		{errors.New("scriptContent is required"), "invalid_arguments"},
		{errors.New(`start k6: exec: "k6": executable file not found in $PATH`), "k6_not_found"},
		{errors.New("discover installation id: list installations: http 422"), "app_not_installed"},
		{errors.New("create pr comment: http 401: bad credentials"), "github_auth_failed"},
		{errors.New("create pr comment: http 403: forbidden"), "github_permission_denied"},
		{errors.New("create pr comment: http 404: not found"), "github_not_found"},
		{errors.New("something mysterious"), "internal_error"},
	}

	for _, tc := range cases {
		info := MapError(tc.err)
		if info.Code != tc.code {
			t.Errorf("MapError(%q) code = %q, want %q", tc.err, info.Code, tc.code)
		}
		if info.Message != tc.err.Error() {
			t.Errorf("MapError(%q) message = %q, want verbatim", tc.err, info.Message)
		}
	}
}

func TestMapErrorNil(t *testing.T) {
	info := MapError(nil)
	if info.Code != "internal_error" {
		t.Fatalf("code = %q", info.Code)
	}
}

func TestEnvelopeConstructors(t *testing.T) {
	ok := TextResult("hello")
	if ok.IsError || len(ok.Content) != 1 || ok.Content[0].Type != "text" || ok.Content[0].Text != "hello" {
		t.Fatalf("TextResult = %#v", ok)
	}

	fail := ErrorResult("bad %s: %d", "thing", 7)
	if !fail.IsError || fail.Content[0].Text != "bad thing: 7" {
		t.Fatalf("ErrorResult = %#v", fail)
	}
}
