// SPDX-License-Identifier: Apache-2.0
package errors

import (
	stderrors "errors"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeProviderError, "provider request failed", fmt.Errorf("connection refused"))
	got := err.Error()
	if !strings.Contains(got, "PROVIDER_ERROR") {
		t.Errorf("expected code in error string, got %q", got)
	}
	if !strings.Contains(got, "connection refused") {
		t.Errorf("expected cause in error string, got %q", got)
	}
}

func TestErrorStringWithoutCause(t *testing.T) {
	err := New(CodeCompoundNotFound, "compound not found", nil)
	got := err.Error()
	if got != "[COMPOUND_NOT_FOUND] compound not found" {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(CodeInternal, "wrapper", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeUnknownTool, "tool not permitted", nil).
		WithContext("tool", "search_web").
		WithContext("agent", "efficacy")
	if err.Context["tool"] != "search_web" {
		t.Errorf("expected tool context, got %v", err.Context["tool"])
	}
	if err.Context["agent"] != "efficacy" {
		t.Errorf("expected agent context, got %v", err.Context["agent"])
	}
}

func TestWithRecoverable(t *testing.T) {
	err := New(CodeParseError, "malformed finish output", nil).WithRecoverable(true)
	if !err.Recoverable {
		t.Error("expected recoverable error")
	}
}

func TestAsTriageError(t *testing.T) {
	te := New(CodeTimeout, "run exceeded deadline", nil)
	if got := AsTriageError(te); got != te {
		t.Error("expected identity conversion for TriageError")
	}

	plain := fmt.Errorf("plain error")
	got := AsTriageError(plain)
	if got.Code != CodeInternal {
		t.Errorf("expected INTERNAL_ERROR wrapping, got %s", got.Code)
	}
	if !stderrors.Is(got, plain) {
		t.Error("expected wrapped error to retain the cause")
	}

	if AsTriageError(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", New(CodeRateLimitExceeded, "limited", nil), CodeRateLimitExceeded},
		{"wrapped", fmt.Errorf("outer: %w", New(CodeProviderError, "failed", nil)), CodeProviderError},
		{"plain", fmt.Errorf("plain"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeCompoundNotFound, 404},
		{CodeInvalidToolCall, 400},
		{CodeRateLimitExceeded, 429},
		{CodeTimeout, 408},
		{CodePartialAgentFailure, 502},
		{CodeInternal, 500},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", nil).StatusCode; got != tt.want {
			t.Errorf("status for %s = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeInvalidToolCall, "schema validation failed", fmt.Errorf("missing field query")).
		WithContext("tool", "search_compounds")
	data, merr := json.Marshal(err)
	if merr != nil {
		t.Fatalf("marshal: %v", merr)
	}
	var decoded map[string]any
	if uerr := json.Unmarshal(data, &decoded); uerr != nil {
		t.Fatalf("unmarshal: %v", uerr)
	}
	if decoded["code"] != "INVALID_TOOL_CALL" {
		t.Errorf("expected code field, got %v", decoded["code"])
	}
	if decoded["cause"] != "missing field query" {
		t.Errorf("expected cause field, got %v", decoded["cause"])
	}
}
