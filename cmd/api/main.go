package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/flyerdeck/backend/internal/auth"
	"github.com/zhouzirui/flyerdeck/backend/internal/config"
	"github.com/zhouzirui/flyerdeck/backend/internal/database"
	"github.com/zhouzirui/flyerdeck/backend/internal/handler"
	"github.com/zhouzirui/flyerdeck/backend/internal/logger"
	"github.com/zhouzirui/flyerdeck/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/flyerdeck/backend/internal/middleware"
	"github.com/zhouzirui/flyerdeck/backend/internal/service/agent"
	chatservice "github.com/zhouzirui/flyerdeck/backend/internal/service/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.SetupDefault(os.Stdout)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	sessionStore, err := buildSessionStore(cfg.Database)
	if err != nil {
		slog.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}

	verifier := buildVerifier(cfg.Auth)

	var gateway chatservice.Gateway
	if cfg.AI.Enabled() {
		g, err := agent.New(ctx, cfg.AI, cfg.Agent)
		if err != nil {
			slog.Warn("failed to initialize agent gateway, chat requests will fail until configured", "error", err)
		} else {
			gateway = g
			slog.Info("agent gateway initialized", "model", cfg.AI.Model)
		}
	} else {
		slog.Warn("Ark 凭证未配置，聊天请求将返回 agent unavailable")
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	chatSvc := chatservice.NewService(sessionStore, gateway, chatservice.Options{
		HistoryLimit:       cfg.Chat.HistoryLimit,
		AutoCreateSessions: cfg.Chat.AutoCreateSessions,
		Recorder:           collector,
	})

	rateLimiter := middlewarePkg.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	router := handler.NewRouter(handler.Deps{
		Chat:        chatSvc,
		Verifier:    verifier,
		RateLimiter: rateLimiter,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	startServer(ctx, cfg.Server, router)
}

func buildSessionStore(cfg config.DatabaseConfig) (store.SessionStore, error) {
	if !cfg.Enabled() {
		slog.Warn("DATABASE_URL not set, sessions are kept in memory and will not survive a restart")
		return store.NewMemoryStore(), nil
	}

	if err := database.RunMigrations(cfg.URL); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	slog.Info("connected to postgres session store")
	return store.NewPostgresStore(db), nil
}

func buildVerifier(cfg config.AuthConfig) auth.Verifier {
	if cfg.Enabled() {
		return auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}
	slog.Warn("SUPABASE_URL/SUPABASE_ANON_KEY not set, accepting any bearer token as a user id; do not run this in production")
	return auth.InsecureVerifier{}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("FlyerDeck backend listening", "addr", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
