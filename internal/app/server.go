package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/appointly/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/appointly/internal/api/middlewares"
	"github.com/markdave123-py/appointly/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// Deps are the collaborators the routes need.
type Deps struct {
	Auth     handlers.AuthAPI
	Chat     handlers.ChatAPI
	Tokens   handlers.ChatbotTokenIssuer
	Verifier appMiddleware.TokenVerifier
	DB       handlers.Pinger
	Redis    *redis.Client
}

// NewRouter builds and wires all routes.
func NewRouter(cfg *config.Config, log *slog.Logger, d Deps) http.Handler {
	dev := cfg.IsDevelopment()
	authHandler := handlers.NewAuthHandler(d.Auth, dev)
	chatHandler := handlers.NewChatHandler(d.Chat, d.Tokens, dev)
	healthHandler := handlers.NewHealthHandler(d.DB, cfg.AppEnv)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Group(func(public chi.Router) {
		public.Use(appMiddleware.OptionalAuth(d.Verifier))
		public.Get("/", healthHandler.Root)
		public.Get("/health", healthHandler.Health)
	})

	// API routes
	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.RateLimit(appMiddleware.RateLimitConfig{
			Prefix:   "appointly:rl",
			Capacity: cfg.RateLimitMaxRequests,
			Window:   cfg.RateLimitWindow,
		}, d.Redis))

		api.Route("/auth", func(auth chi.Router) {
			// public endpoints
			auth.Post("/register", authHandler.Register)
			auth.Post("/login", authHandler.Login)
			auth.Post("/refresh", authHandler.Refresh)
			auth.Post("/logout", authHandler.Logout)

			auth.Group(func(protected chi.Router) {
				protected.Use(appMiddleware.RequireAuth(d.Verifier))
				protected.Get("/me", authHandler.Me)
				protected.Post("/logout-all", authHandler.LogoutAll)
			})
		})

		api.Route("/chat", func(chat chi.Router) {
			chat.Use(appMiddleware.RequireAuth(d.Verifier))
			chat.Post("/message", chatHandler.SendMessage)
			chat.Get("/history/{sessionId}", chatHandler.History)
			chat.Get("/sessions", chatHandler.ListSessions)
			chat.Post("/session", chatHandler.CreateSession)
			chat.Delete("/session/{sessionId}", chatHandler.EndSession)
			chat.Post("/chatbot/token", chatHandler.ChatbotToken)
		})
	})

	return r
}

func NewServer(cfg *config.Config, log *slog.Logger, handler http.Handler) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
