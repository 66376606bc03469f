// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/ai/ollama"
	"github.com/jason-s-yu/trivia/internal/ai/openai"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/jason-s-yu/trivia/internal/config"
	"github.com/jason-s-yu/trivia/internal/connection"
	"github.com/jason-s-yu/trivia/internal/database"
	"github.com/jason-s-yu/trivia/internal/game"
	"github.com/jason-s-yu/trivia/internal/handlers"
	"github.com/jason-s-yu/trivia/internal/quiz"
	"github.com/jason-s-yu/trivia/internal/telemetry"
	"github.com/jason-s-yu/trivia/internal/timer"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "trivia-server", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		logger.Warnf("telemetry disabled: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	hub := broadcast.NewHub(logger)
	publishers := broadcast.Multi{hub}
	nodeID := uuid.New()

	g, gctx := errgroup.WithContext(ctx)

	opts := game.Options{
		Logger:        logger,
		QuizTimeout:   cfg.QuizTimeout,
		EvictionGrace: cfg.EvictionGrace,
		ResultsDelay:  cfg.ResultsDelaySeconds(),
		Timers:        timer.NewService(timer.WithLogger(logger)),
	}
	if opts.ResultsDelay == 0 {
		opts.ResultsDelay = -1
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		publishers = append(publishers, broadcast.NewRedisPublisher(rdb, nodeID))
		opts.Events = cache.NewQueue(rdb, cfg.HistorianQueueName)
		g.Go(func() error {
			return broadcast.Relay(gctx, rdb, hub, nodeID, logger)
		})
		logger.Infof("Relaying events through redis at %s", cfg.RedisAddr)
	}
	opts.Publisher = publishers

	switch {
	case cfg.DatabaseURL != "":
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Fatalf("database: %v", err)
		}
		opts.Store = database.NewPostgresStore(pool)
	case cfg.SQLitePath != "":
		store, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatalf("sqlite: %v", err)
		}
		defer store.Close()
		opts.Store = store
	default:
		logger.Warn("No DATABASE_URL or SQLITE_PATH; completed sessions are not persisted")
	}

	opts.Quiz = buildQuizChain(cfg, logger)

	var tracker *connection.Tracker
	opts.OnEvict = func(id uuid.UUID) {
		if tracker != nil {
			tracker.Forget(id)
		}
	}
	o := game.New(opts)
	tracker = connection.NewTracker(o.Timers(), cfg.ReconnectGrace, handlers.ConnectionNotifier(o, logger), logger)

	tokens, err := auth.NewAuthority(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; tokens only verify on this node")
	}
	serviceKey, err := auth.NewServiceKey(cfg.ServiceKeyHash)
	if err != nil {
		logger.Fatalf("service key: %v", err)
	}
	if !serviceKey.Enabled() {
		logger.Warn("SERVICE_KEY_HASH not set; session control endpoints are open")
	}

	api := &handlers.Server{
		Orchestrator: o,
		Hub:          hub,
		Tracker:      tracker,
		Tokens:       tokens,
		ServiceKey:   serviceKey,
		Logger:       logger,
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down...")
		err := errors.Join(srv.Shutdown(sctx), o.Shutdown(sctx))
		if terr := shutdownTelemetry(sctx); terr != nil {
			logger.Warnf("telemetry shutdown: %v", terr)
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("server exited: %v", err)
		os.Exit(1)
	}
	logger.Info("Server shutdown complete.")
}

// buildQuizChain wires the configured providers in QUIZ_PROVIDERS order. Providers without
// credentials are skipped; with none left the orchestrator serves placeholder quizzes.
func buildQuizChain(cfg config.Config, logger *logrus.Logger) quiz.Generator {
	var named []quiz.Named
	for _, name := range cfg.QuizProviders {
		switch name {
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				logger.Debug("skipping openai quiz provider: OPENAI_API_KEY not set")
				continue
			}
			named = append(named, quiz.NewProviderGenerator(openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)))
		case "ollama":
			if cfg.OllamaHost == "" {
				logger.Debug("skipping ollama quiz provider: OLLAMA_HOST not set")
				continue
			}
			named = append(named, quiz.NewProviderGenerator(ollama.New(cfg.OllamaHost, cfg.OllamaModel)))
		default:
			logger.Warnf("unknown quiz provider %q", name)
		}
	}
	if len(named) == 0 {
		logger.Warn("No quiz providers configured; sessions use placeholder questions")
		return quiz.Placeholder{}
	}
	return quiz.NewChain(logger, named...).WithTimeout(cfg.QuizTimeout)
}
