package core

import (
	"errors"
	"strings"
)

// CodedError is implemented by domain errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

type ErrorInfo struct {
	Code    string
	Message string
}

// MapError classifies an error into the dispatcher's taxonomy. The code is
// used for logging and telemetry labels; the message travels to the caller
// verbatim inside the failure envelope.
func MapError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: "internal_error", Message: "internal error"}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	var coded CodedError
	if errors.As(err, &coded) {
		return ErrorInfo{Code: coded.ErrorCode(), Message: msg}
	}

	switch {
	case strings.Contains(lower, "completion service http"):
		return ErrorInfo{Code: "upstream_service_failure", Message: msg}
	case strings.Contains(lower, "completion service"):
		return ErrorInfo{Code: "upstream_unreachable", Message: msg}
	case strings.Contains(lower, "unknown tool"):
		return ErrorInfo{Code: "unknown_tool", Message: msg}
	case strings.Contains(lower, "is required"), strings.Contains(lower, "must not be empty"):
		return ErrorInfo{Code: "invalid_arguments", Message: msg}
	case strings.Contains(lower, "executable file not found"):
		return ErrorInfo{Code: "k6_not_found", Message: msg}
	case strings.Contains(lower, "discover installation id"), strings.Contains(lower, "no installation found"), strings.Contains(lower, "multiple installations found"):
		return ErrorInfo{Code: "app_not_installed", Message: msg}
	case strings.Contains(lower, "http 401"):
		return ErrorInfo{Code: "github_auth_failed", Message: msg}
	case strings.Contains(lower, "http 403"):
		return ErrorInfo{Code: "github_permission_denied", Message: msg}
	case strings.Contains(lower, "http 404"):
		return ErrorInfo{Code: "github_not_found", Message: msg}
	default:
		return ErrorInfo{Code: "internal_error", Message: msg}
	}
}
