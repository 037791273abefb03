// SPDX-License-Identifier: Apache-2.0
package react

import (
	"encoding/json"
	"strings"

	"github.com/helixbio/triage/pkg/errors"
)

// Answer is the structured payload a loop must produce to finish. The
// coordinator reuses it for its own verdict, which shares the shape.
type Answer struct {
	Score      float64
	Confidence float64
	Reasoning  string
}

// ParseAnswer extracts the final JSON object from model content.
// Models wrap JSON in prose or markdown fences often enough that the parser
// tolerates surrounding text, but the fields themselves are strict: score,
// confidence, and reasoning must all be present.
func ParseAnswer(content string) (Answer, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return Answer{}, errors.New(errors.CodeParseError, "no JSON object in final answer", nil).
			WithRecoverable(true)
	}

	var probe struct {
		Score      *float64 `json:"score"`
		Confidence *float64 `json:"confidence"`
		Reasoning  *string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return Answer{}, errors.New(errors.CodeParseError, "final answer is not valid JSON", err).
			WithRecoverable(true)
	}
	switch {
	case probe.Score == nil:
		return Answer{}, missingField("score")
	case probe.Confidence == nil:
		return Answer{}, missingField("confidence")
	case probe.Reasoning == nil || strings.TrimSpace(*probe.Reasoning) == "":
		return Answer{}, missingField("reasoning")
	}
	return Answer{
		Score:      *probe.Score,
		Confidence: *probe.Confidence,
		Reasoning:  strings.TrimSpace(*probe.Reasoning),
	}, nil
}

func missingField(name string) error {
	return errors.New(errors.CodeParseError, "final answer is missing a required field", nil).
		WithContext("field", name).
		WithRecoverable(true)
}

// extractJSONObject returns the outermost {...} span in s, or "" when none
// exists. Brace matching ignores braces inside JSON strings.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
