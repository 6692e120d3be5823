package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/devlink/internal/config"
	"github.com/openclaw/devlink/internal/database"
	"github.com/openclaw/devlink/internal/handler"
	"github.com/openclaw/devlink/internal/jobs"
	"github.com/openclaw/devlink/internal/middleware"
	"github.com/openclaw/devlink/internal/model"
	"github.com/openclaw/devlink/internal/redis"
	"github.com/openclaw/devlink/internal/service"
	"github.com/openclaw/devlink/internal/store"
	"github.com/openclaw/devlink/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionStore := store.NewPostgresStore(db)
	codeGen := service.NewCodeGenerator(cfg)
	pairingService := service.NewPairingService(sessionStore, codeGen, cfg.PairingMaxActive)

	// The qr and bluetooth payloads are returned to the caller, which
	// owns rendering and radio; only network discovery needs a
	// server-side bridge.
	registry := transport.NewRegistry(pairingService, map[model.Transport]transport.Bridge{
		model.TransportNetwork: transport.NewRedisAnnouncer(redisClient),
	})

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	tokenResolver := service.NewTokenResolver(redisClient)

	authMiddleware := middleware.NewAuthMiddleware(tokenResolver)
	claimLimitMiddleware := middleware.NewClaimRateLimitMiddleware(rateLimiter, cfg.ClaimRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	pairingHandler := handler.NewPairingHandler(registry, pairingService)
	deviceHandler := handler.NewDeviceHandler(pairingService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/pairings", func(r chi.Router) {
		r.With(claimLimitMiddleware.Handler).Post("/claim", pairingHandler.Claim)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Mount("/", pairingHandler.Routes())
		})
	})

	r.Route("/v1/devices", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", deviceHandler.Routes())
	})

	sweeper := jobs.NewExpirySweeper(sessionStore, cfg.SweepInterval(), cfg.DeviceStaleThreshold())
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
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
