package llm

import (
	"context"
	"testing"
)

func TestRateLimitedPassthrough(t *testing.T) {
	inner := &MockProvider{Response: &ChatResponse{Content: "ok"}}
	p := NewRateLimited(inner, 100, 10)

	resp, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestRateLimitedRespectsContext(t *testing.T) {
	inner := &MockProvider{Response: &ChatResponse{Content: "ok"}}
	// One token per hour with burst 1: the second call must wait.
	p := NewRateLimited(inner, 1.0/3600, 1)

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected error for canceled context while waiting")
	}
}

func TestRateLimitedDisabled(t *testing.T) {
	inner := &MockProvider{Response: &ChatResponse{Content: "ok"}}
	if p := NewRateLimited(inner, 0, 0); p != inner {
		t.Fatal("zero rps should return the provider unwrapped")
	}
}
