// Package config loads Triage configuration from defaults, a YAML file, and
// TRIAGE_-prefixed environment variables, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Tools     ToolsConfig     `koanf:"tools"`
	Agents    AgentsConfig    `koanf:"agents"`
	LITL      LITLConfig      `koanf:"litl"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// RequestTimeout bounds one prioritize call wall-clock.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider     string  `koanf:"provider"` // openai, ollama
	Model        string  `koanf:"model"`
	SummaryModel string  `koanf:"summary_model"` // lighter model for digests
	BaseURL      string  `koanf:"base_url"`
	APIKey       string  `koanf:"api_key"`
	Temperature  float64 `koanf:"temperature"`
	// RPS throttles model calls across all agents; 0 disables throttling.
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type GatewayConfig struct {
	// CacheTTL bounds how long identical (tool, arguments) results are reused.
	CacheTTL time.Duration `koanf:"cache_ttl"`
	// RateLimitMaxWait bounds admission waiting before RATE_LIMIT_EXCEEDED.
	RateLimitMaxWait time.Duration `koanf:"rate_limit_max_wait"`
	// CallTimeout bounds one provider attempt inside the retry budget.
	CallTimeout time.Duration `koanf:"call_timeout"`
	// RetryAttempts bounds provider retries on transient failure.
	RetryAttempts int `koanf:"retry_attempts"`
	// RetryInitialDelay is the first backoff delay.
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay"`
	// Limits configures per-provider admission: calls per window.
	Limits map[string]RateLimit `koanf:"limits"`
	// Manifest optionally points at a YAML tool-descriptor manifest.
	Manifest string `koanf:"manifest"`
}

type RateLimit struct {
	Calls  int           `koanf:"calls"`
	Window time.Duration `koanf:"window"`
}

type ToolsConfig struct {
	// HTTPTimeout bounds one request to a public data source.
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	// TavilyAPIKey authenticates web search.
	TavilyAPIKey string `koanf:"tavily_api_key"`
	// NCBIAPIKey raises the PubMed request budget; optional.
	NCBIAPIKey string `koanf:"ncbi_api_key"`
	// MCPServers lists external MCP tool servers to bridge at startup.
	MCPServers []MCPServerConfig `koanf:"mcp_servers"`
}

type MCPServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

type AgentsConfig struct {
	// MaxSteps bounds a reasoning loop before a degraded best-effort result.
	MaxSteps int `koanf:"max_steps"`
	// SummarizeObservations routes tool output through the goal-directed
	// summarizer before it enters the trajectory.
	SummarizeObservations bool `koanf:"summarize_observations"`
}

type LITLConfig struct {
	// DBPath is the SQLite file holding assay history and recorded runs.
	DBPath string `koanf:"db_path"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Load reads configuration. path may be empty to use defaults plus env.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.addr", ":8080")
	k.Set("server.request_timeout", "5m")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:14b-instruct")
	k.Set("llm.summary_model", "")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.temperature", 0.5)
	k.Set("llm.rps", 0)
	k.Set("llm.burst", 1)
	k.Set("gateway.cache_ttl", "10m")
	k.Set("gateway.rate_limit_max_wait", "30s")
	k.Set("gateway.call_timeout", "1m")
	k.Set("gateway.retry_attempts", 3)
	k.Set("gateway.retry_initial_delay", "200ms")
	k.Set("gateway.limits.pubchem.calls", 2)
	k.Set("gateway.limits.pubchem.window", "1s")
	k.Set("gateway.limits.chembl.calls", 5)
	k.Set("gateway.limits.chembl.window", "1s")
	k.Set("gateway.limits.pubmed.calls", 3)
	k.Set("gateway.limits.pubmed.window", "1s")
	k.Set("gateway.limits.websearch.calls", 1)
	k.Set("gateway.limits.websearch.window", "1s")
	k.Set("gateway.limits.litl.calls", 10)
	k.Set("gateway.limits.litl.window", "1s")
	k.Set("tools.http_timeout", "30s")
	k.Set("agents.max_steps", 5)
	k.Set("agents.summarize_observations", true)
	k.Set("litl.db_path", "litl.db")
	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (TRIAGE_LLM_PROVIDER -> llm.provider)
	if err := k.Load(env.Provider("TRIAGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TRIAGE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
