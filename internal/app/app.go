package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	appMiddleware "github.com/markdave123-py/appointly/internal/api/middlewares"
	"github.com/markdave123-py/appointly/internal/config"
	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/core/archive_engine"
	db "github.com/markdave123-py/appointly/internal/core/database"
	"github.com/markdave123-py/appointly/internal/core/events"
	"github.com/markdave123-py/appointly/internal/core/llm"
	objectclient "github.com/markdave123-py/appointly/internal/core/object-client"
	"github.com/markdave123-py/appointly/internal/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg *config.Config
	log *slog.Logger

	DBClient  *db.DatabaseClient
	Events    core.EventPublisher
	Archiver  archive_engine.Archiver
	Assistant core.Assistant
	Redis     *redis.Client
	Auth      *services.AuthService
	Server    *Server
}

func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, log: log}

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	log.Info("database initialized and ready")

	a.Events = newPublisher(cfg, log)

	if cfg.TranscriptBucket != "" {
		objClient, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Archiver = archive_engine.NewTranscriptArchiver(dbClient, objClient, cfg.TranscriptBucket, log)
	} else {
		log.Info("transcript archival disabled", "reason", "TRANSCRIPT_BUCKET not set")
	}

	assistant, err := newAssistant(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the assistant: %w", err)
	}
	a.Assistant = assistant

	authority := services.NewTokenAuthority(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	auth, err := services.NewAuthService(dbClient, authority, a.Events, log, services.AuthOptions{
		BcryptCost: cfg.BcryptCost,
		ChatbotTTL: cfg.ChatbotTokenTTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Auth = auth

	var queue services.ArchiveQueue
	if a.Archiver != nil {
		queue = a.Archiver
	}
	sessions := services.NewSessionService(dbClient, a.Events, queue, log)
	messages := services.NewMessageService(dbClient)
	chat := services.NewChatService(sessions, messages, assistant, cfg.AIHistoryWindow, log)

	a.Redis = appMiddleware.NewRedisClient(appCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)

	router := NewRouter(cfg, log, Deps{
		Auth:     a.Auth,
		Chat:     chat,
		Tokens:   a.Auth,
		Verifier: authority,
		DB:       dbClient,
		Redis:    a.Redis,
	})
	a.Server = NewServer(cfg, log, router)
	return a, nil
}

// newPublisher falls back to dropping events when the broker is unset or
// unreachable; events never gate a request.
func newPublisher(cfg *config.Config, log *slog.Logger) core.EventPublisher {
	if cfg.AMQPURL == "" {
		log.Info("event publishing disabled", "reason", "AMQP_URL not set")
		return events.NoopPublisher{}
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange, log)
	if err != nil {
		log.Warn("event publishing disabled", "reason", err.Error())
		return events.NoopPublisher{}
	}
	return pub
}

func newAssistant(ctx context.Context, cfg *config.Config) (core.Assistant, error) {
	switch cfg.AIProvider {
	case "gemini":
		return llm.NewGeminiAssistant(ctx, cfg.AIAPIKey, cfg.GenModel)
	default:
		return llm.NewRelayClient(cfg.AIServiceURL, 30*time.Second), nil
	}
}

// Run serves HTTP and drives the background workers until ctx is cancelled.
// The transcript queue is closed only after the HTTP server has drained, so
// sessions ended by in-flight requests are still archived.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Archiver != nil {
		a.Archiver.Start(ctx, a.cfg.ArchiveWorkers)
	}

	g.Go(func() error {
		return a.Server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.cleanupTokens(gctx)
		return nil
	})

	err := g.Wait()
	if a.Archiver != nil {
		a.Archiver.Stop()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// cleanupTokens purges stale refresh token records on every tick.
func (a *App) cleanupTokens(ctx context.Context) {
	interval := a.cfg.TokenCleanupInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Auth.PurgeStaleTokens(ctx)
			if err != nil {
				a.log.Error("purge stale refresh tokens", "err", err)
				continue
			}
			if n > 0 {
				a.log.Info("purged stale refresh tokens", "count", n)
			}
		}
	}
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Events != nil {
		_ = a.Events.Close()
	}
	if g, ok := a.Assistant.(*llm.GeminiAssistant); ok {
		_ = g.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
