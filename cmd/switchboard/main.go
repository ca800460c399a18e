// Command switchboard hosts the routing and execution core behind a small
// HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/config"
	"github.com/hrygo/switchboard/engine"
	"github.com/hrygo/switchboard/internal/version"
	"github.com/hrygo/switchboard/llm"
	"github.com/hrygo/switchboard/metrics"
	"github.com/hrygo/switchboard/quality"
	"github.com/hrygo/switchboard/respcache"
	"github.com/hrygo/switchboard/routing"
	"github.com/hrygo/switchboard/speculative"
	"github.com/hrygo/switchboard/store"
	"github.com/hrygo/switchboard/telemetry"
	"github.com/hrygo/switchboard/tools"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "switchboard",
		Short:   "Multi-agent routing and execution core",
		Version: version.StringFull(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	// .env is optional; environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.shutdown()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))
	e.POST("/api/v1/chat", app.handleChat)
	e.GET("/api/v1/stats", app.handleStats)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// app holds the wired core and its background workers.
type app struct {
	engine     *engine.Engine
	cache      *respcache.Cache
	recorder   *telemetry.Recorder
	aggregator *telemetry.Aggregator
	topics     *routing.TopicTracker
	registry   *prometheus.Registry
	closers    []func()
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	agents := agent.DefaultRegistry()
	scorer := quality.NewScorer(agents)
	heuristic := routing.NewHeuristicRouter(agents)

	chains, err := cfg.AgentChains()
	if err != nil {
		return nil, err
	}

	// Telemetry: postgres when configured, in-memory otherwise. The semantic
	// fast path rides the same pool and needs an embedder model.
	var sink telemetry.Sink = telemetry.NewMemorySink()
	var semantic *routing.VectorMatcher
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgresSink(dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { pg.Close() })
		sink = pg

		if emb := cfg.Routing.Embedder; emb.Model != "" {
			embedder, err := llm.NewService(&llm.Config{
				Provider:   emb.Provider,
				Model:      emb.Model,
				APIKey:     emb.APIKey,
				BaseURL:    emb.BaseURL,
				EmbedModel: emb.Model,
			})
			if err != nil {
				return nil, err
			}
			exemplars, err := store.NewExemplarStore(pg.DB(), 0)
			if err != nil {
				return nil, err
			}
			semantic = routing.NewVectorMatcher(embedder, exemplars, routing.VectorMatcherConfig{Logger: logger})
		}
	}
	a.recorder = telemetry.NewRecorder(sink, telemetry.RecorderConfig{Logger: logger})
	a.aggregator = telemetry.NewAggregator(sink, telemetry.AggregatorConfig{Logger: logger})
	a.aggregator.Start(context.Background())

	a.topics = routing.NewTopicTracker(heuristic, routing.TopicTrackerConfig{Logger: logger})

	llmRouter := routing.NewLLMRouter(agents, heuristic, a.aggregator, routing.LLMRouterConfig{
		Models: cfg.ClassifierModels(),
		Logger: logger,
	})

	unified := routing.NewUnified(agents, heuristic, llmRouter, semantic, a.topics, routing.UnifiedConfig{
		ForceHeuristic: cfg.Routing.ForceHeuristic,
		LLMTimeout:     cfg.Routing.LLMTimeout,
		Policy: routing.Policy{
			SuccessWeight:        0.5,
			LatencyWeight:        0.3,
			CostWeight:           0.2,
			MinLLMConfidence:     cfg.Routing.MinLLMConfidence,
			MaxLLMRoutingLatency: cfg.Routing.MaxLLMRoutingLatency,
		},
		Logger: logger,
	})

	toolReg, err := tools.NewRegistry()
	if err != nil {
		return nil, err
	}
	toolExec := tools.NewExecutor(toolReg, tools.ExecutorConfig{Logger: logger})

	fallback := llm.NewFallbackExecutor(llm.FallbackConfig{Logger: logger})
	invoker := engine.NewAgentInvoker(agents, fallback, toolReg, toolExec, engine.AgentInvokerConfig{
		Chains: chains,
		Logger: logger,
	})

	a.cache, err = respcache.New(respcache.Config{
		Capacity:   cfg.Cache.Capacity,
		MinQuality: cfg.Cache.MinQuality,
		PolicyExpr: cfg.Cache.PolicyExpr,
		UserScoped: cfg.Cache.UserScoped,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	var conversations store.ConversationStore = store.NewMemoryConversationStore(0)
	if path := cfg.Store.SQLitePath; path != "" {
		sqlite, err := store.NewSQLiteConversationStore(path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { sqlite.Close() })
		conversations = sqlite
	}

	spec := speculative.NewExecutor(invoker, scorer, speculative.Config{
		MaxParallelAgents:  cfg.Speculative.MaxParallelAgents,
		MinConfidenceToRun: cfg.Speculative.MinConfidenceToRun,
		Timeout:            cfg.Speculative.Timeout,
		QualityThreshold:   cfg.Speculative.QualityThreshold,
		Logger:             logger,
	})

	a.engine, err = engine.New(engine.Deps{
		Router:        unified,
		Invoker:       invoker,
		Scorer:        scorer,
		Cache:         a.cache,
		Recorder:      a.recorder,
		Metrics:       m,
		Speculative:   spec,
		Conversations: conversations,
	}, engine.Config{
		EnableSpeculative: cfg.Speculative.Enabled,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) shutdown() {
	a.engine.Shutdown()
	a.topics.Shutdown()
	a.aggregator.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.recorder.Shutdown(ctx)
	for _, close := range a.closers {
		close()
	}
}

type chatRequest struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

func (a *app) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	resp, err := a.engine.Handle(c.Request().Context(), engine.Request{
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *app) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"cache":  a.cache.Stats(),
		"agents": a.aggregator.Snapshot(),
	})
}
