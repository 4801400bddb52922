package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/api"
	"github.com/MikeSquared-Agency/concierge/internal/audit"
	"github.com/MikeSquared-Agency/concierge/internal/config"
	"github.com/MikeSquared-Agency/concierge/internal/gateway"
	"github.com/MikeSquared-Agency/concierge/internal/hermes"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/prompt"
	"github.com/MikeSquared-Agency/concierge/internal/ratelimit"
	"github.com/MikeSquared-Agency/concierge/internal/slack"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("concierge starting", "port", cfg.Port)
	if dotenvErr != nil && !os.IsNotExist(dotenvErr) {
		slog.Warn("failed to load .env", "error", dotenvErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var storage gateway.Storage
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		storage = db
		slog.Info("database connected")
	} else if cfg.BoltPath != "" {
		db, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			slog.Error("failed to open bolt store", "path", cfg.BoltPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		storage = db
		slog.Info("bolt store opened", "path", cfg.BoltPath)
	} else {
		storage = store.NewMemory()
		slog.Warn("no DATABASE_URL or BOLT_PATH set, conversations are kept in memory")
	}

	// Rate limit counters
	var counters ratelimit.Store
	if cfg.RedisURL != "" {
		rs, err := ratelimit.NewRedisStore(ctx, cfg.RedisURL, "concierge:rate:")
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		counters = rs
		slog.Info("redis rate counters ready")
	} else {
		counters = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(counters, map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassVisitor: {Window: cfg.RateWindow, Max: int64(cfg.RateVisitorMax)},
		ratelimit.ClassMember:  {Window: cfg.RateWindow, Max: int64(cfg.RateMemberMax)},
		ratelimit.ClassAdmin:   {Window: cfg.RateWindow, Max: int64(cfg.RateAdminMax)},
	}, slog.Default())

	// Audit sink
	var recorder audit.Recorder = audit.NewLogRecorder(slog.Default())
	if cfg.NatsURL != "" {
		hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		recorder = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, audit entries go to the log")
	}

	// Operator alerts (optional)
	deps := gateway.Deps{
		Store:        storage,
		Limiter:      limiter,
		Audit:        recorder,
		HistoryLimit: cfg.HistoryMaxTurns + 1,
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Alerter = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		deps.AlertLimiter = ratelimit.New(counters, map[ratelimit.Class]ratelimit.Rule{
			ratelimit.ClassAlert: {Window: 5 * time.Minute, Max: 1},
		}, slog.Default())
		slog.Info("slack alerts ready", "channel", cfg.SlackChannel)
	}

	// Knowledge and prompt
	kb, err := knowledge.Load(cfg.KnowledgeFile)
	if err != nil {
		slog.Error("failed to load knowledge base", "error", err)
		os.Exit(1)
	}
	system, err := prompt.LoadSystemPrompt(cfg.SystemPromptFile)
	if err != nil {
		slog.Error("failed to load system prompt", "error", err)
		os.Exit(1)
	}
	deps.Assembler = prompt.New(system, kb, prompt.Options{
		MaxTurns:   cfg.HistoryMaxTurns,
		CharBudget: cfg.HistoryCharBudget,
	})
	slog.Info("knowledge base loaded", "entries", kb.Len())

	// Model providers
	invoker := llm.NewInvoker(cfg.Providers(), cfg.LLMTimeout, slog.Default())
	if len(invoker.Providers()) == 0 {
		slog.Warn("no LLM provider credentials configured, assistant replies are unavailable")
	} else {
		slog.Info("llm providers ready", "order", invoker.Providers())
	}
	deps.Invoker = invoker

	gw := gateway.New(deps, slog.Default())

	// HTTP API
	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		slog.Error("invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, proxies, gw, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("concierge ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("concierge stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
