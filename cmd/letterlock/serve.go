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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/letterlock/internal/api"
	"github.com/yangwenmai/letterlock/internal/config"
	"github.com/yangwenmai/letterlock/internal/engine"
	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/logging"
	"github.com/yangwenmai/letterlock/internal/payment"
	"github.com/yangwenmai/letterlock/internal/ratelimit"
	"github.com/yangwenmai/letterlock/internal/store"
	"github.com/yangwenmai/letterlock/internal/worker"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and webhook reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(*configFlag)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	s, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	limiter, err := newLimiter(gctx, g, cfg)
	if err != nil {
		return err
	}

	var (
		modelClient engine.ModelClient
		fetcher     engine.PostingFetcher
	)
	if cfg.UseStubs() {
		slog.Warn("no LLM API key configured, using stub letter writer", "provider", cfg.LLMProvider)
		modelClient = &engine.StubModelClient{}
		fetcher = &engine.StubPostingFetcher{}
	} else {
		slog.Info("using LLM provider", "provider", cfg.LLMProvider)
		modelClient = newModelClient(cfg)
		fetcher = engine.NewHTTPPostingFetcher(cfg.HTTPTimeout)
	}

	var gateway payment.Gateway
	if cfg.UseStubGateway() {
		slog.Warn("STRIPE_SECRET_KEY not set, checkout uses the stub gateway")
		gateway = &payment.StubGateway{}
	} else {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.PriceCents, cfg.Currency, cfg.ProductName)
	}

	processor := payment.NewProcessor(s, s)
	srv := api.New(api.Options{
		Letters:    letter.NewService(s, engine.NewLetterWriter(modelClient), fetcher, limiter),
		Checkout:   payment.NewCheckout(s, gateway, cfg.PublicBaseURL),
		Webhooks:   payment.NewWebhookHandler(payment.NewStripeVerifier(cfg.StripeWebhookSecret), s, processor),
		Health:     s,
		CORSOrigin: cfg.CORSOrigin,
		TrustProxy: cfg.TrustProxy,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	reconciler := worker.New(s, processor, cfg.ReconcileInterval, cfg.ReconcileMaxAttempts)
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("letterlock server listening", "addr", "http://localhost:"+cfg.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newLimiter returns a Redis limiter when REDIS_ADDR is set, otherwise an
// in-memory limiter whose janitor runs in g.
func newLimiter(ctx context.Context, g *errgroup.Group, cfg config.Config) (ratelimit.Limiter, error) {
	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		g.Go(func() error {
			<-ctx.Done()
			return rdb.Close()
		})
		slog.Info("rate limiter backed by redis", "addr", cfg.RedisAddr)
		return ratelimit.NewRedis(rdb, "", cfg.RateLimitWindow, cfg.RateLimitMax), nil
	}

	mem := ratelimit.NewMemory(cfg.RateLimitWindow, cfg.RateLimitMax)
	g.Go(func() error {
		mem.Run(ctx, cfg.RateLimitWindow)
		return nil
	})
	return mem, nil
}

// generateAttempts is how many model calls one generate request may make.
// A failed generation surfaces as UPSTREAM and the caller decides to retry.
const generateAttempts = 1

func newModelClient(cfg config.Config) engine.ModelClient {
	switch cfg.LLMProvider {
	case "claude":
		return engine.NewClaudeClient(cfg.AnthropicKey,
			engine.WithClaudeModel(cfg.AnthropicModel),
			engine.WithClaudeTimeout(cfg.HTTPTimeout),
			engine.WithClaudeMaxAttempts(generateAttempts))
	case "gemini":
		return engine.NewGeminiClient(cfg.GeminiKey,
			engine.WithGeminiModel(cfg.GeminiModel),
			engine.WithGeminiTimeout(cfg.HTTPTimeout),
			engine.WithGeminiMaxAttempts(generateAttempts))
	case "ollama":
		return engine.NewOllamaClient(cfg.OllamaURL,
			engine.WithOllamaModel(cfg.OllamaModel),
			engine.WithOllamaTimeout(cfg.HTTPTimeout),
			engine.WithOllamaMaxAttempts(generateAttempts))
	default:
		return engine.NewOpenAIClient(cfg.OpenAIKey,
			engine.WithBaseURL(cfg.OpenAIBaseURL),
			engine.WithModel(cfg.OpenAIModel),
			engine.WithTimeout(cfg.HTTPTimeout),
			engine.WithMaxAttempts(generateAttempts))
	}
}
