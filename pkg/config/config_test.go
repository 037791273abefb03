package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("llm.provider = %q", cfg.LLM.Provider)
	}
	if cfg.Gateway.CacheTTL != 10*time.Minute {
		t.Errorf("gateway.cache_ttl = %v", cfg.Gateway.CacheTTL)
	}
	if cfg.Agents.MaxSteps != 5 {
		t.Errorf("agents.max_steps = %d", cfg.Agents.MaxSteps)
	}
	if lim, ok := cfg.Gateway.Limits["pubchem"]; !ok || lim.Calls != 2 || lim.Window != time.Second {
		t.Errorf("pubchem rate limit = %+v", lim)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	body := `
log:
  level: debug
  format: json
llm:
  provider: openai
  model: gpt-4o
gateway:
  cache_ttl: 60s
  limits:
    pubchem:
      calls: 7
      window: 2s
agents:
  max_steps: 8
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log config = %+v", cfg.Log)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("llm config = %+v", cfg.LLM)
	}
	if cfg.Gateway.CacheTTL != time.Minute {
		t.Errorf("cache_ttl = %v", cfg.Gateway.CacheTTL)
	}
	if cfg.Gateway.Limits["pubchem"].Calls != 7 {
		t.Errorf("pubchem limit = %+v", cfg.Gateway.Limits["pubchem"])
	}
	if cfg.Agents.MaxSteps != 8 {
		t.Errorf("max_steps = %d", cfg.Agents.MaxSteps)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRIAGE_LOG_LEVEL", "warn")
	t.Setenv("TRIAGE_LLM_PROVIDER", "openai")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("llm.provider = %q", cfg.LLM.Provider)
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	if err := w.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Log.Level != "error" {
			t.Errorf("reloaded log.level = %q", cfg.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe the change")
	}
}
