// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/resilience"
)

type fakeProvider struct {
	name  string
	calls atomic.Int64
	fn    func(tool string, args map[string]any) (any, error)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Call(_ context.Context, tool string, args map[string]any) (any, error) {
	p.calls.Add(1)
	if p.fn != nil {
		return p.fn(tool, args)
	}
	return map[string]any{"tool": tool}, nil
}

func newTestRegistry(t *testing.T, p Provider, descs ...Descriptor) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.RegisterProvider(p); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	return r
}

func cidSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"cid": map[string]any{"type": "string"}},
		"required":   []any{"cid"},
	}
}

func TestInvokeCachesIdenticalCalls(t *testing.T) {
	p := &fakeProvider{name: "pubchem"}
	r := newTestRegistry(t, p, Descriptor{
		Name: "pubchem.properties", Provider: "pubchem",
		InputSchema: cidSchema(), Cacheable: true,
	})
	g := New(r, WithCacheTTL(time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := g.Invoke(context.Background(), "pubchem.properties", map[string]any{"cid": "2244"}); err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}

	// Different arguments miss the cache.
	if _, err := g.Invoke(context.Background(), "pubchem.properties", map[string]any{"cid": "3672"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
}

func TestInvokeCacheExpiry(t *testing.T) {
	p := &fakeProvider{name: "pubchem"}
	r := newTestRegistry(t, p, Descriptor{
		Name: "pubchem.properties", Provider: "pubchem",
		InputSchema: cidSchema(), Cacheable: true,
	})
	g := New(r, WithCacheTTL(time.Minute))

	now := time.Now()
	g.cache.now = func() time.Time { return now }

	args := map[string]any{"cid": "2244"}
	if _, err := g.Invoke(context.Background(), "pubchem.properties", args); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := g.Invoke(context.Background(), "pubchem.properties", args); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2 after TTL expiry", got)
	}
}

func TestInvokeNonCacheableAlwaysCalls(t *testing.T) {
	p := &fakeProvider{name: "litl"}
	r := newTestRegistry(t, p, Descriptor{
		Name: "litl.query", Provider: "litl",
		InputSchema: cidSchema(), Cacheable: false,
	})
	g := New(r)

	args := map[string]any{"cid": "2244"}
	for i := 0; i < 2; i++ {
		if _, err := g.Invoke(context.Background(), "litl.query", args); err != nil {
			t.Fatalf("invoke: %v", err)
		}
	}
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
}

func TestInvokeConcurrentIdenticalCallsDeduplicated(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{name: "pubchem", fn: func(string, map[string]any) (any, error) {
		<-release
		return "ok", nil
	}}
	r := newTestRegistry(t, p, Descriptor{
		Name: "pubchem.properties", Provider: "pubchem",
		InputSchema: cidSchema(), Cacheable: true,
	})
	g := New(r, WithCacheTTL(time.Minute))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Invoke(context.Background(), "pubchem.properties", map[string]any{"cid": "2244"})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestInvokeRejectsUnregisteredTool(t *testing.T) {
	p := &fakeProvider{name: "pubchem"}
	g := New(newTestRegistry(t, p))

	_, err := g.Invoke(context.Background(), "nope.missing", nil)
	if errors.CodeOf(err) != errors.CodeInvalidToolCall {
		t.Fatalf("code = %v, want %v", errors.CodeOf(err), errors.CodeInvalidToolCall)
	}
	if got := p.calls.Load(); got != 0 {
		t.Fatalf("provider calls = %d, want 0", got)
	}
}

func TestInvokeRejectsInvalidArguments(t *testing.T) {
	p := &fakeProvider{name: "pubchem"}
	r := newTestRegistry(t, p, Descriptor{
		Name: "pubchem.properties", Provider: "pubchem",
		InputSchema: cidSchema(), Cacheable: true,
	})
	g := New(r)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"cid": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Invoke(context.Background(), "pubchem.properties", tt.args)
			if errors.CodeOf(err) != errors.CodeInvalidToolCall {
				t.Fatalf("code = %v, want %v", errors.CodeOf(err), errors.CodeInvalidToolCall)
			}
		})
	}
	if got := p.calls.Load(); got != 0 {
		t.Fatalf("provider calls = %d, want 0", got)
	}
}

func TestInvokeProviderErrorAfterRetries(t *testing.T) {
	p := &fakeProvider{name: "chembl", fn: func(string, map[string]any) (any, error) {
		return nil, errors.New(errors.CodeProviderError, "upstream 500", nil).WithRecoverable(true)
	}}
	r := newTestRegistry(t, p, Descriptor{
		Name: "chembl.bioactivity", Provider: "chembl",
		InputSchema: cidSchema(), Cacheable: true,
	})
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(2 * time.Millisecond)
	g := New(r, WithRetry(retry))

	_, err := g.Invoke(context.Background(), "chembl.bioactivity", map[string]any{"cid": "2244"})
	if errors.CodeOf(err) != errors.CodeProviderError {
		t.Fatalf("code = %v, want %v", errors.CodeOf(err), errors.CodeProviderError)
	}
	if got := p.calls.Load(); got != 3 {
		t.Fatalf("provider calls = %d, want 3", got)
	}
	// Failures are not cached; the next call reaches the provider again.
	_, _ = g.Invoke(context.Background(), "chembl.bioactivity", map[string]any{"cid": "2244"})
	if got := p.calls.Load(); got != 6 {
		t.Fatalf("provider calls = %d, want 6", got)
	}
}

func TestInvokeProviderAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &fakeProvider{name: "chembl", fn: func(string, map[string]any) (any, error) {
		<-release
		return nil, nil
	}}
	r := newTestRegistry(t, p, Descriptor{
		Name: "chembl.bioactivity", Provider: "chembl",
		InputSchema: cidSchema(), Cacheable: false,
	})
	g := New(r,
		WithCallTimeout(10*time.Millisecond),
		WithRetry(resilience.DefaultRetryConfig().WithMaxAttempts(1)))

	start := time.Now()
	_, err := g.Invoke(context.Background(), "chembl.bioactivity", map[string]any{"cid": "2244"})
	if errors.CodeOf(err) != errors.CodeTimeout {
		t.Fatalf("code = %v, want %v", errors.CodeOf(err), errors.CodeTimeout)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("invoke blocked %v on a stuck provider", elapsed)
	}
}

func TestWindowLimiterAdmission(t *testing.T) {
	l := newWindowLimiter(2, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.acquire(ctx, 0); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	// Third call in the same window exceeds the maximum wait.
	if _, err := l.acquire(ctx, 10*time.Millisecond); errors.CodeOf(err) != errors.CodeRateLimitExceeded {
		t.Fatalf("code = %v, want %v", errors.CodeOf(err), errors.CodeRateLimitExceeded)
	}
	// A generous wait queues until a slot frees, and the reported wait
	// reflects the time actually spent queued.
	start := time.Now()
	waited, err := l.acquire(ctx, time.Second)
	if err != nil {
		t.Fatalf("queued acquire: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Fatalf("queued acquire returned after %v, expected to wait for the window", elapsed)
	}
	if waited < 50*time.Millisecond || waited > elapsed {
		t.Fatalf("reported wait = %v, elapsed %v", waited, elapsed)
	}
}

func TestWindowLimiterImmediateAdmissionReportsNoWait(t *testing.T) {
	l := newWindowLimiter(1, time.Minute)
	clock := time.Now()
	l.now = func() time.Time { return clock }
	waited, err := l.acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if waited != 0 {
		t.Fatalf("reported wait = %v for an uncontended slot", waited)
	}
}

func TestWindowLimiterNeverExceedsMax(t *testing.T) {
	const max = 3
	window := 50 * time.Millisecond
	l := newWindowLimiter(max, window)

	var mu sync.Mutex
	var admissions []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.acquire(context.Background(), 2*time.Second); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			admissions = append(admissions, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Recorded times lag the limiter's internal stamps by scheduling
	// jitter, so measure against a slightly narrowed window.
	measured := window - 5*time.Millisecond
	mu.Lock()
	defer mu.Unlock()
	for i := range admissions {
		count := 0
		for j := range admissions {
			d := admissions[j].Sub(admissions[i])
			if d >= 0 && d < measured {
				count++
			}
		}
		if count > max {
			t.Fatalf("%d admissions within one window, max is %d", count, max)
		}
	}
}

func TestWindowLimiterContextCanceled(t *testing.T) {
	l := newWindowLimiter(1, time.Minute)
	if _, err := l.acquire(context.Background(), 0); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := l.acquire(ctx, time.Hour); errors.CodeOf(err) != errors.CodeTimeout {
		t.Fatalf("code = %v, want %v", errors.CodeOf(err), errors.CodeTimeout)
	}
}

func TestCacheLazyEviction(t *testing.T) {
	c := newResultCache(time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.set("a", 1)
	c.set("b", 2)
	if got := c.len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}

	clock = clock.Add(2 * time.Minute)
	if _, hit := c.get("a"); hit {
		t.Fatal("expired entry served from cache")
	}
	// Only the read key is evicted; expiry is lazy, not swept.
	if got := c.len(); got != 1 {
		t.Fatalf("len = %d after expired read, want 1", got)
	}
}

func TestCacheKeyCanonical(t *testing.T) {
	a, err := cacheKey("t", map[string]any{"x": 1, "y": "z"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := cacheKey("t", map[string]any{"y": "z", "x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("keys differ for equal args: %s vs %s", a, b)
	}
	c, _ := cacheKey("other", map[string]any{"x": 1, "y": "z"})
	if a == c {
		t.Fatal("keys collide across tool names")
	}
}

func TestManifestRegistration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	manifest := `tools:
  - name: pubchem.properties
    description: Fetch computed properties for a compound.
    provider: pubchem
    cacheable: true
    input_schema:
      type: object
      properties:
        cid:
          type: string
      required: [cid]
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	r := NewRegistry()
	if err := r.RegisterProvider(&fakeProvider{name: "pubchem"}); err != nil {
		t.Fatal(err)
	}
	if err := RegisterManifest(r, m); err != nil {
		t.Fatalf("register manifest: %v", err)
	}
	d, _, ok := r.Lookup("pubchem.properties")
	if !ok {
		t.Fatal("tool not registered")
	}
	if !d.Cacheable || d.SideEffect != SideEffectReadOnly {
		t.Fatalf("descriptor policy = %+v", d)
	}
	if err := d.validateArgs(map[string]any{"cid": "2244"}); err != nil {
		t.Fatalf("schema from manifest rejects valid args: %v", err)
	}
}
