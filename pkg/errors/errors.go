// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Triage.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Triage errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidToolCall indicates a tool invocation was rejected before
	// reaching any provider: the tool is unregistered or the arguments failed
	// schema validation.
	CodeInvalidToolCall ErrorCode = "INVALID_TOOL_CALL"

	// CodeRateLimitExceeded indicates rate-limit admission could not be
	// obtained within the configured maximum wait.
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeProviderError indicates a capability provider request failed after
	// bounded retries.
	CodeProviderError ErrorCode = "PROVIDER_ERROR"

	// CodeUnknownTool indicates an agent selected a tool outside its
	// permitted capability set.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeOutOfRangeResult indicates a leaf agent produced a numeric output
	// outside its declared domain.
	CodeOutOfRangeResult ErrorCode = "OUT_OF_RANGE_RESULT"

	// CodeIncompleteInput indicates the coordinator was invoked without both
	// well-formed leaf results.
	CodeIncompleteInput ErrorCode = "INCOMPLETE_INPUT"

	// CodeCompoundNotFound indicates compound identity resolution failed
	// before any agent ran.
	CodeCompoundNotFound ErrorCode = "COMPOUND_NOT_FOUND"

	// CodePartialAgentFailure indicates one leaf agent errored irrecoverably,
	// so no composite result can be produced.
	CodePartialAgentFailure ErrorCode = "PARTIAL_AGENT_FAILURE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeLLMError indicates a reasoning-model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeParseError indicates reasoning-model output could not be parsed
	// into the expected structured fields.
	CodeParseError ErrorCode = "PARSE_ERROR"
)

// TriageError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type TriageError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int // For HTTP responses
}

// Error implements the error interface.
func (e *TriageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *TriageError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and the HTTP
// error surface.
func (e *TriageError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Cause:       cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new TriageError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *TriageError {
	return &TriageError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *TriageError) WithContext(key string, value interface{}) *TriageError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *TriageError) WithRecoverable(recoverable bool) *TriageError {
	e.Recoverable = recoverable
	return e
}

// AsTriageError attempts to convert an error to a TriageError.
// Returns the error as TriageError if it is one, or wraps it otherwise.
func AsTriageError(err error) *TriageError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TriageError); ok {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code of err, or CodeInternal when err carries no
// TriageError in its chain.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if te, ok := e.(*TriageError); ok {
			return te.Code
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return CodeInternal
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeCompoundNotFound, CodeUnknownTool:
		return 404
	case CodeInvalidToolCall, CodeIncompleteInput, CodeParseError:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimitExceeded:
		return 429
	case CodeProviderError, CodeLLMError, CodePartialAgentFailure:
		return 502
	default:
		return 500
	}
}
