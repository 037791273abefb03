// SPDX-License-Identifier: Apache-2.0
// Command triage runs the compound prioritization service: one HTTP endpoint
// that fans a candidate out to the leaf agents in parallel and returns the
// coordinator's fused verdict.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixbio/triage/pkg/agents"
	"github.com/helixbio/triage/pkg/config"
	"github.com/helixbio/triage/pkg/core"
	triageerr "github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/gateway"
	"github.com/helixbio/triage/pkg/litl"
	"github.com/helixbio/triage/pkg/llm"
	"github.com/helixbio/triage/pkg/orchestrator"
	"github.com/helixbio/triage/pkg/react"
	"github.com/helixbio/triage/pkg/resilience"
	"github.com/helixbio/triage/pkg/summarize"
	"github.com/helixbio/triage/pkg/telemetry"
	"github.com/helixbio/triage/pkg/tools"
)

const (
	serviceName = "triage"
	version     = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("triage exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(c); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics := telemetry.InitMetrics()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	provider = llm.NewRateLimited(provider, cfg.LLM.RPS, cfg.LLM.Burst)

	store, err := litl.Open(cfg.LITL.DBPath)
	if err != nil {
		return fmt.Errorf("open litl store: %w", err)
	}
	defer store.Close()

	registry := gateway.NewRegistry()
	if err := registerTools(ctx, registry, cfg, store, provider, logger); err != nil {
		return err
	}

	gw := gateway.New(registry,
		gateway.WithCacheTTL(cfg.Gateway.CacheTTL),
		gateway.WithLimits(gatewayLimits(cfg.Gateway.Limits)),
		gateway.WithMaxWait(cfg.Gateway.RateLimitMaxWait),
		gateway.WithCallTimeout(cfg.Gateway.CallTimeout),
		gateway.WithRetry(gatewayRetry(cfg)),
		gateway.WithMetrics(metrics),
		gateway.WithLogger(logger),
	)

	emitter := &eventLogger{logger: logger}

	leafOpts := []react.Option{
		react.WithEmitter(emitter),
		react.WithLogger(logger),
		react.WithMetrics(metrics),
	}
	if cfg.Agents.SummarizeObservations {
		s := summarize.New(provider, summaryModel(cfg),
			summarize.WithLogger(logger),
			summarize.WithMetrics(metrics))
		leafOpts = append(leafOpts, react.WithSummarizer(s))
	}

	efficacy := agents.NewEfficacy(leafParams(cfg, agents.DefaultEfficacyTools()), provider, gw, leafOpts...)
	toxicity := agents.NewToxicity(leafParams(cfg, agents.DefaultToxicityTools()), provider, gw, leafOpts...)
	coordinator := agents.NewCoordinator(provider, cfg.LLM.Model,
		agents.WithCoordinatorEmitter(emitter),
		agents.WithCoordinatorLogger(logger),
		agents.WithCoordinatorMetrics(metrics))

	orch := orchestrator.New(efficacy, toxicity, coordinator,
		orchestrator.WithResolver(orchestrator.NewKnownCompoundResolver(store, gw)),
		orchestrator.WithStore(store),
		orchestrator.WithEmitter(emitter),
		orchestrator.WithTimeout(cfg.Server.RequestTimeout),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics))

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, config.WithWatchLogger(logger))
		if err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			watcher.OnChange(func(c *config.Config) {
				for name, lim := range c.Gateway.Limits {
					gw.SetLimit(name, gateway.Limit{Calls: lim.Calls, Window: lim.Window})
				}
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("config watcher disabled", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /prioritize_compound", handlePrioritize(orch, logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("triage listening", "addr", cfg.Server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildProvider selects the chat backend from configuration.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		var opts []llm.OpenAIOption
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.LLM.BaseURL))
		}
		p, err := llm.NewOpenAI(cfg.LLM.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "ollama":
		return llm.NewOllama(cfg.LLM.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// registerTools wires the built-in data providers, any configured MCP
// servers, and an optional descriptor manifest into the registry. An
// unreachable MCP server degrades to a warning; the built-in catalog still
// serves.
func registerTools(ctx context.Context, registry *gateway.Registry, cfg *config.Config, store *litl.Store, provider llm.Provider, logger *slog.Logger) error {
	timeout := cfg.Tools.HTTPTimeout
	if err := tools.Register(registry,
		tools.NewPubChem(timeout),
		tools.NewChEMBL(timeout),
		tools.NewTavily(cfg.Tools.TavilyAPIKey, timeout),
		tools.NewPubMed(cfg.Tools.NCBIAPIKey, timeout),
		tools.NewLITL(store, provider, summaryModel(cfg)),
	); err != nil {
		return fmt.Errorf("register tool providers: %w", err)
	}

	for _, srv := range cfg.Tools.MCPServers {
		p, err := tools.NewMCPStdio(srv.Name, srv.Command, srv.Args)
		if err != nil {
			logger.Warn("mcp server unavailable", "server", srv.Name, "error", err)
			continue
		}
		if err := tools.RegisterMCP(ctx, registry, p); err != nil {
			logger.Warn("mcp tool listing failed", "server", srv.Name, "error", err)
			p.Close()
			continue
		}
		logger.Info("mcp server bridged", "server", srv.Name)
	}

	if cfg.Gateway.Manifest != "" {
		m, err := gateway.LoadManifest(cfg.Gateway.Manifest)
		if err != nil {
			return fmt.Errorf("load tool manifest: %w", err)
		}
		if err := gateway.RegisterManifest(registry, m); err != nil {
			return fmt.Errorf("register tool manifest: %w", err)
		}
	}
	return nil
}

func leafParams(cfg *config.Config, toolset []string) agents.Params {
	return agents.Params{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxSteps:    cfg.Agents.MaxSteps,
		Tools:       toolset,
	}
}

// summaryModel falls back to the main model when no lighter one is set.
func summaryModel(cfg *config.Config) string {
	if cfg.LLM.SummaryModel != "" {
		return cfg.LLM.SummaryModel
	}
	return cfg.LLM.Model
}

func gatewayLimits(limits map[string]config.RateLimit) map[string]gateway.Limit {
	out := make(map[string]gateway.Limit, len(limits))
	for name, lim := range limits {
		out[name] = gateway.Limit{Calls: lim.Calls, Window: lim.Window}
	}
	return out
}

// gatewayRetry builds the provider retry policy. HTTP errors from the data
// providers report whether they are transient; everything else keeps the
// default recoverability rules.
func gatewayRetry(cfg *config.Config) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.Gateway.RetryAttempts > 0 {
		rc = rc.WithMaxAttempts(cfg.Gateway.RetryAttempts)
	}
	if cfg.Gateway.RetryInitialDelay > 0 {
		rc = rc.WithInitialDelay(cfg.Gateway.RetryInitialDelay)
	}
	return rc.WithIsRecoverable(func(err error) bool {
		var transient interface{ Transient() bool }
		if errors.As(err, &transient) {
			return transient.Transient()
		}
		var te *triageerr.TriageError
		if errors.As(err, &te) {
			return te.Recoverable
		}
		return true
	})
}

type prioritizeRequest struct {
	CompoundName string `json:"compound_name"`
}

type prioritizeResponse struct {
	CompoundName string                `json:"compound_name"`
	Result       *core.CompositeResult `json:"result"`
}

func handlePrioritize(orch *orchestrator.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req prioritizeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, triageerr.New(triageerr.CodeIncompleteInput, "invalid request body", err))
			return
		}
		verdict, err := orch.Prioritize(r.Context(), req.CompoundName)
		if err != nil {
			logger.ErrorContext(r.Context(), "prioritize failed",
				"compound", req.CompoundName, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, prioritizeResponse{
			CompoundName: req.CompoundName,
			Result:       verdict,
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	te := triageerr.AsTriageError(err)
	writeJSON(w, te.StatusCode, map[string]any{"error": te})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("write response", "error", err)
	}
}

// eventLogger surfaces semantic agent events as debug log lines. A streaming
// transport can replace it without touching the agents.
type eventLogger struct {
	logger *slog.Logger
}

func (e *eventLogger) Emit(ctx context.Context, ev core.Event) {
	e.logger.DebugContext(ctx, string(ev.Type),
		"agent", ev.Agent,
		"run_id", ev.RunID,
		"payload", ev.Payload)
}
