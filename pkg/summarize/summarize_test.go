// SPDX-License-Identifier: Apache-2.0
package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/helixbio/triage/pkg/llm"
)

func TestSummarizeCondensesLongOutput(t *testing.T) {
	provider := llm.NewScriptedProvider()
	provider.AddContent("IC50 is 12 nM against EGFR.")
	s := New(provider, "summary-model", WithMinLength(10))

	raw := strings.Repeat("assay record; ", 50)
	got, summarized := s.Summarize(context.Background(), "assess binding affinity", raw)
	if !summarized {
		t.Fatal("expected summarization")
	}
	if got != "IC50 is 12 nM against EGFR." {
		t.Fatalf("summary = %q", got)
	}

	// The goal must be part of the prompt.
	reqs := provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if !strings.Contains(reqs[0].Messages[1].Content, "assess binding affinity") {
		t.Fatal("goal missing from summarization prompt")
	}
}

func TestSummarizeSkipsShortOutput(t *testing.T) {
	provider := llm.NewScriptedProvider()
	s := New(provider, "summary-model", WithMinLength(100))

	got, summarized := s.Summarize(context.Background(), "goal", "short result")
	if summarized || got != "short result" {
		t.Fatalf("got %q (summarized=%v), want raw passthrough", got, summarized)
	}
	if provider.CallCount() != 0 {
		t.Fatal("model should not be called for short output")
	}
}

func TestSummarizeFallsBackOnModelError(t *testing.T) {
	provider := &llm.MockProvider{Err: errors.New("backend down")}
	s := New(provider, "summary-model", WithMinLength(0))

	raw := strings.Repeat("x", 500)
	got, summarized := s.Summarize(context.Background(), "goal", raw)
	if summarized || got != raw {
		t.Fatal("model failure must return the raw observation")
	}
}

func TestSummarizeFallsBackWhenDigestGrows(t *testing.T) {
	provider := llm.NewScriptedProvider()
	provider.AddContent(strings.Repeat("y", 600))
	s := New(provider, "summary-model", WithMinLength(0))

	raw := strings.Repeat("x", 500)
	got, summarized := s.Summarize(context.Background(), "goal", raw)
	if summarized || got != raw {
		t.Fatal("a digest larger than the input must be discarded")
	}
}

func TestSummarizeFallsBackOnEmptyContent(t *testing.T) {
	provider := llm.NewScriptedProvider()
	provider.AddContent("   ")
	s := New(provider, "summary-model", WithMinLength(0))

	raw := strings.Repeat("x", 500)
	got, summarized := s.Summarize(context.Background(), "goal", raw)
	if summarized || got != raw {
		t.Fatal("empty summary must return the raw observation")
	}
}
