package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/handlers"
	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/repository"
	"gift-journal-backend/internal/services"
	"gift-journal-backend/internal/store"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	pool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Apply migrations
	if err := store.Migrate(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	db := store.New(pool, cfg.Store)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	verifRepo := repository.NewVerificationRepository(db)
	bindingRepo := repository.NewBindingRepository(db)
	memoryRepo := repository.NewMemoryRepository(db)
	eventRepo := repository.NewEventRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	focusRepo := repository.NewFocusRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	notifRepo := repository.NewNotificationRepository(db)

	// Initialize services
	imageStore, err := services.NewImageStore(context.Background(), cfg.AWS, cfg.Limits.MaxImageBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create image store")
	}
	mailer := services.NewMailer(cfg.SMTP)
	wsHub := services.NewWSHub()
	notificationService := services.NewNotificationService(notifRepo, wsHub)
	authService := services.NewAuthService(userRepo, verifRepo, notificationService, mailer, cfg.JWT, cfg.Verification)
	bindingService := services.NewBindingService(userRepo, bindingRepo, settingsRepo, notificationService, mailer, cfg.Server, cfg.Binding)
	memoryService := services.NewMemoryService(memoryRepo, userRepo, imageStore, cfg.Limits)
	eventService := services.NewEventService(eventRepo, userRepo, imageStore)
	settingsService := services.NewSettingsService(settingsRepo, userRepo)
	focusService := services.NewFocusService(focusRepo)
	periodService := services.NewPeriodService(periodRepo, userRepo)
	appStateService := services.NewAppStateService(memoryService, eventService, settingsService)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	bindingHandler := handlers.NewBindingHandler(bindingService)
	memoryHandler := handlers.NewMemoryHandler(memoryService)
	eventHandler := handlers.NewEventHandler(eventService)
	settingsHandler := handlers.NewSettingsHandler(settingsService, appStateService)
	focusHandler := handlers.NewFocusHandler(focusService)
	periodHandler := handlers.NewPeriodHandler(periodService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, authService, userRepo)

	// Rate limiter tiers
	apiLimiter := middleware.NewRateLimiter(cfg.RateLimit.APIMax, cfg.RateLimit)
	authLimiter := middleware.NewRateLimiter(cfg.RateLimit.AuthMax, cfg.RateLimit)
	sensitiveLimiter := middleware.NewRateLimiter(cfg.RateLimit.SensitiveMax, cfg.RateLimit)

	requireAuth := middleware.AuthMiddleware(authService, userRepo)

	// Setup router
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORSOrigin))
	r.Use(bodyLimit(cfg.Limits.BodyLimitBytes))

	r.Route("/api", func(r chi.Router) {
		r.Use(apiLimiter.Middleware)

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(sensitiveLimiter.Middleware)
				r.Post("/register/request-code", authHandler.RequestSignupCode)
				r.Post("/password/request-reset-code", authHandler.RequestResetCode)
				r.Post("/password/reset", authHandler.ResetPassword)
			})

			r.Post("/register/verify", authHandler.VerifySignupCode)
			r.Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", authHandler.Me)
				r.Patch("/profile", authHandler.UpdateProfile)
			})
		})

		// The confirm landing page is reached from an email link, so it
		// cannot carry a bearer token.
		r.Get("/bindings/confirm", bindingHandler.Confirm)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Route("/memories", func(r chi.Router) {
				r.Get("/", memoryHandler.List)
				r.Post("/", memoryHandler.Create)
				r.Post("/batch", memoryHandler.CreateBatch)
				r.Patch("/{id}", memoryHandler.Update)
				r.Delete("/{id}", memoryHandler.Delete)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", eventHandler.List)
				r.Post("/", eventHandler.Create)
				r.Patch("/{id}", eventHandler.Update)
				r.Delete("/{id}", eventHandler.Delete)
			})

			r.Get("/app/state", settingsHandler.AppState)

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", settingsHandler.Get)
				r.Patch("/", settingsHandler.Update)
				r.Post("/connect", bindingHandler.Connect)
				r.Post("/disconnect", bindingHandler.Disconnect)
			})

			r.Get("/bindings/pending", bindingHandler.Pending)
			r.Post("/bindings/{id}/respond", bindingHandler.Respond)

			r.Route("/period-tracker", func(r chi.Router) {
				r.Get("/", periodHandler.List)
				r.Patch("/{date}", periodHandler.Patch)
			})

			r.Route("/focus", func(r chi.Router) {
				r.Get("/stats", focusHandler.Get)
				r.Patch("/stats/complete-session", focusHandler.CompleteSession)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Post("/", notificationHandler.Create)
				r.Patch("/{id}/read", notificationHandler.MarkRead)
				r.Delete("/", notificationHandler.Clear)
			})
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bodyLimit caps request bodies so oversized payloads fail fast instead of
// exhausting memory.
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
