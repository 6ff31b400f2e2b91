package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorCode classifies upstream failures so the agent loop can decide
// between recovery, retry, and surfacing.
type ErrorCode string

const (
	CodeContextLength ErrorCode = "context_length_exceeded"
	CodeTimeout       ErrorCode = "timeout"
	CodeRateLimit     ErrorCode = "rate_limit"
	CodeAuthFailed    ErrorCode = "auth_failed"
	CodeGeneric       ErrorCode = "generic"
)

// StreamError is a structured upstream error.
type StreamError struct {
	Code    ErrorCode
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether a countdown retry is worth offering.
func (e *StreamError) Retryable() bool {
	return e.Code == CodeTimeout || e.Code == CodeRateLimit
}

// classifyError maps an upstream error to a StreamError.
func classifyError(err error) *StreamError {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return &StreamError{Code: CodeContextLength, Message: apiErr.Message}
		}
		switch apiErr.HTTPStatusCode {
		case 400:
			if strings.Contains(strings.ToLower(apiErr.Message), "context length") ||
				strings.Contains(strings.ToLower(apiErr.Message), "maximum context") {
				return &StreamError{Code: CodeContextLength, Message: apiErr.Message}
			}
		case 401, 403:
			return &StreamError{Code: CodeAuthFailed, Message: apiErr.Message}
		case 429:
			return &StreamError{Code: CodeRateLimit, Message: apiErr.Message}
		case 408, 504:
			return &StreamError{Code: CodeTimeout, Message: apiErr.Message}
		}
		return &StreamError{Code: CodeGeneric, Message: apiErr.Message}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &StreamError{Code: CodeTimeout, Message: msg}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return &StreamError{Code: CodeRateLimit, Message: msg}
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &StreamError{Code: CodeAuthFailed, Message: msg}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "context_length_exceeded"):
		return &StreamError{Code: CodeContextLength, Message: msg}
	default:
		return &StreamError{Code: CodeGeneric, Message: msg}
	}
}

// isAuthError reports whether the request should be retried after a token
// refresh.
func isAuthError(err error) bool {
	se := classifyError(err)
	return se != nil && se.Code == CodeAuthFailed
}
