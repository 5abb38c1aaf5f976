package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kestrel-eng/feasgen/pkg/api"
	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/logger"
	"github.com/kestrel-eng/feasgen/pkg/metrics"
	"github.com/kestrel-eng/feasgen/pkg/pipeline"
	"github.com/kestrel-eng/feasgen/pkg/prompts"
	"github.com/kestrel-eng/feasgen/pkg/store"
	"github.com/kestrel-eng/feasgen/pkg/subagent"
	"github.com/kestrel-eng/feasgen/pkg/tools"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = ":8080"
	defaultMetricsAddr = ":9090"
	defaultModel       = "claude-sonnet-4-5"
	defaultMaxTokens   = 8192
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := logger.New(cfg.Verbose)

	// Start prometheus metrics server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("Failed to start prometheus metrics server listener", "error", err)
				os.Exit(1)
			}
			log.Info("Prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("Failed to start prometheus metrics server", "error", err)
				os.Exit(1)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := llm.NewAnthropicClient(log, anthropic.Model(cfg.Model), cfg.MaxTokens)

	catalog := tools.NewCachedSearcher(tools.NewHTTPSearcher(cfg.CatalogURL), cfg.CatalogCacheTTL)
	defer catalog.Stop()

	registry, err := tools.NewRegistry(&tools.RegistryConfig{
		Logger:          log,
		KnowledgeSearch: tools.NewHTTPSearcher(cfg.KnowledgeSearchURL),
		WebSearch:       tools.NewHTTPSearcher(cfg.WebSearchURL),
		CatalogLookup:   catalog,
	})
	if err != nil {
		return fmt.Errorf("failed to create tool registry: %w", err)
	}

	coordinator, err := subagent.New(&subagent.Config{
		Logger:            log,
		LLM:               client,
		Tools:             registry,
		MaxConcurrent:     cfg.MaxConcurrent,
		TaskTimeout:       cfg.TaskTimeout,
		MaxToolIterations: cfg.ToolIterations,
	})
	if err != nil {
		return fmt.Errorf("failed to create subagent coordinator: %w", err)
	}

	promptRegistry, err := prompts.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	var runStore store.Store
	if cfg.PostgresURL != "" {
		pg, err := store.NewPostgresStore(ctx, &store.PostgresConfig{Logger: log, URL: cfg.PostgresURL})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pg.Close()
		runStore = pg
	} else {
		log.Info("no postgres URL configured, using in-memory run store")
		runStore = store.NewMemoryStore()
	}

	promptVersions := pipeline.DefaultPromptVersions()
	for stage, v := range cfg.PromptVersions {
		promptVersions[stage] = v
	}

	if len(cfg.DocumentPaths) > 0 {
		return runOnce(ctx, cfg, log, client, coordinator, promptRegistry, promptVersions, runStore)
	}
	return serve(ctx, cfg, log, client, coordinator, promptRegistry, promptVersions, runStore)
}

// runOnce executes a single pipeline run over local document files and
// prints the report.
func runOnce(
	ctx context.Context,
	cfg Config,
	log *slog.Logger,
	client llm.Client,
	coordinator *subagent.Coordinator,
	promptRegistry *prompts.Registry,
	promptVersions map[pipeline.Stage]string,
	runStore store.Store,
) error {
	documents := make([]string, 0, len(cfg.DocumentPaths))
	for _, path := range cfg.DocumentPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", path, err)
		}
		documents = append(documents, string(data))
	}

	executor, err := pipeline.New(&pipeline.Config{
		Logger:         log,
		LLM:            client,
		Prompts:        promptRegistry,
		Coordinator:    coordinator,
		PromptVersions: promptVersions,
		Sink:           runStore,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	outcome, err := executor.Run(ctx, pipeline.Inputs{
		Documents: documents,
		Metadata:  cfg.Metadata,
	})
	if err != nil {
		return err
	}

	if outcome.Phase == pipeline.PhaseFailed {
		for _, e := range outcome.Errors {
			log.Error("run error", "stage", e.Stage, "code", e.Code, "fatal", e.Fatal, "message", e.Message)
		}
		return fmt.Errorf("run %s failed at stage %s", outcome.RunID, outcome.CompletedStage)
	}

	if cfg.OutputPath != "" {
		if err := os.WriteFile(cfg.OutputPath, []byte(outcome.FinalReport), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		log.Info("report written", "run", outcome.RunID, "path", cfg.OutputPath)
		return nil
	}
	fmt.Println(outcome.FinalReport)
	return nil
}

// serve runs the HTTP API until the context is canceled.
func serve(
	ctx context.Context,
	cfg Config,
	log *slog.Logger,
	client llm.Client,
	coordinator *subagent.Coordinator,
	promptRegistry *prompts.Registry,
	promptVersions map[pipeline.Stage]string,
	runStore store.Store,
) error {
	manager := api.NewRunManager(log, nil)

	executor, err := pipeline.New(&pipeline.Config{
		Logger:         log,
		LLM:            client,
		Prompts:        promptRegistry,
		Coordinator:    coordinator,
		PromptVersions: promptVersions,
		Publisher:      manager,
		Sink:           runStore,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	manager.SetExecutor(executor)

	server, err := api.NewServer(&api.ServerConfig{
		Logger:  log,
		Manager: manager,
		Store:   runStore,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server listening", "address", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type Config struct {
	ShowVersion bool
	Verbose     bool

	ListenAddr  string
	MetricsAddr string

	Model     string
	MaxTokens int64

	PostgresURL string

	KnowledgeSearchURL string
	WebSearchURL       string
	CatalogURL         string
	CatalogCacheTTL    time.Duration

	MaxConcurrent  int
	TaskTimeout    time.Duration
	ToolIterations int

	PromptVersions map[pipeline.Stage]string

	DocumentPaths []string
	Metadata      map[string]string
	OutputPath    string
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func loadConfig() (Config, error) {
	var cfg Config
	var metadataKVs []string
	var promptVersionKVs []string

	flag.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "verbose mode - show debug logs")

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", defaultListenAddr), "address to listen on for the run API (env: LISTEN_ADDR)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics (env: METRICS_ADDR)")

	flag.StringVar(&cfg.Model, "model", getenv("MODEL", defaultModel), "model to use for all pipeline stages (env: MODEL)")
	maxTokens := flag.Int64("max-tokens", int64(defaultMaxTokens), "max tokens per model response")

	flag.StringVar(&cfg.PostgresURL, "postgres-url", getenv("DATABASE_URL", ""), "postgres connection string; empty uses an in-memory store (env: DATABASE_URL)")

	flag.StringVar(&cfg.KnowledgeSearchURL, "knowledge-search-url", getenv("KNOWLEDGE_SEARCH_URL", ""), "knowledge base search service URL (env: KNOWLEDGE_SEARCH_URL)")
	flag.StringVar(&cfg.WebSearchURL, "web-search-url", getenv("WEB_SEARCH_URL", ""), "web search service URL (env: WEB_SEARCH_URL)")
	flag.StringVar(&cfg.CatalogURL, "catalog-url", getenv("CATALOG_URL", ""), "product catalog service URL (env: CATALOG_URL)")
	flag.DurationVar(&cfg.CatalogCacheTTL, "catalog-cache-ttl", 0, "TTL for cached catalog lookups (default 10m)")

	flag.DurationVar(&cfg.TaskTimeout, "task-timeout", 60*time.Second, "wall-clock bound per subagent task")
	flag.IntVar(&cfg.ToolIterations, "tool-iterations", 5, "max tool-calling iterations per subagent task")

	flag.StringSliceVar(&cfg.DocumentPaths, "document", nil, "document file to analyze; repeat for multiple. When set, runs once and exits instead of serving")
	flag.StringSliceVar(&metadataKVs, "meta", nil, "project metadata as key=value; repeat for multiple")
	flag.StringVar(&cfg.OutputPath, "output", "", "write the report to this file instead of stdout")
	flag.StringSliceVar(&promptVersionKVs, "prompt-version", nil, "pin a stage's prompt version as stage=version; repeat for multiple")

	flag.Parse()

	if cfg.ShowVersion {
		return cfg, nil
	}

	cfg.MaxTokens = *maxTokens

	var err error
	cfg.MaxConcurrent, err = getenvInt("MAX_CONCURRENT_SUBAGENTS", 5)
	if err != nil {
		return Config{}, err
	}

	if cfg.KnowledgeSearchURL == "" || cfg.WebSearchURL == "" || cfg.CatalogURL == "" {
		return Config{}, fmt.Errorf("all tool service URLs are required (set KNOWLEDGE_SEARCH_URL, WEB_SEARCH_URL and CATALOG_URL or the corresponding flags)")
	}

	cfg.Metadata = make(map[string]string, len(metadataKVs))
	for _, kv := range metadataKVs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Config{}, fmt.Errorf("invalid --meta %q, expected key=value", kv)
		}
		cfg.Metadata[k] = v
	}

	cfg.PromptVersions = make(map[pipeline.Stage]string, len(promptVersionKVs))
	for _, kv := range promptVersionKVs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Config{}, fmt.Errorf("invalid --prompt-version %q, expected stage=version", kv)
		}
		cfg.PromptVersions[pipeline.Stage(k)] = v
	}

	return cfg, nil
}
