package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "go.duodoo.tech/fedlogin/api/echo"
	"go.duodoo.tech/fedlogin/cache"
	redisstore "go.duodoo.tech/fedlogin/cache/redis"
	"go.duodoo.tech/fedlogin/config"
	"go.duodoo.tech/fedlogin/domain"
	"go.duodoo.tech/fedlogin/log"
	"go.duodoo.tech/fedlogin/mongodb"
	"go.duodoo.tech/fedlogin/internal/provider"
	"go.duodoo.tech/fedlogin/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		warnLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		warnLog.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Str("fallback_log_level", logLevel.String()).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)
	appLogger.Info(context.Background(), "Starting fedlogin server...")
	appLogger.Info(context.Background(), "Configuration loaded", map[string]interface{}{
		"http_port":       cfg.HTTPPort,
		"mongo_db_name":   cfg.MongoDBName,
		"session_backend": cfg.SessionBackend,
		"tenant_key":      cfg.TenantKey,
		"log_level":       cfg.LogLevel,
	})

	ctx := context.Background()
	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", initErr, nil)
	}
	db := mongodb.GetDB()

	// Repositories
	configRepo, err := mongodb.NewProviderConfigRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize ProviderConfigRepository", err, nil)
	}
	pairingRepo, err := mongodb.NewPairingSessionRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize PairingSessionRepository", err, nil)
	}
	accountRepo, err := mongodb.NewAccountRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize AccountRepository", err, nil)
	}
	tokenRepo, err := mongodb.NewIdentityTokenRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize IdentityTokenRepository", err, nil)
	}

	// Session store, per configured backend.
	var sessions domain.SessionStore
	var memorySessions *cache.MemorySessionStore
	switch cfg.SessionBackend {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", err, nil)
		}
		sessions = redisstore.NewSessionStore(redisClient, "fedlogin", cfg.SessionValidity())
	case "memory":
		memorySessions = cache.NewMemorySessionStore(cfg.SessionValidity())
		sessions = memorySessions
	default:
		mongoSessions, err := mongodb.NewSessionStore(ctx, db, cfg.SessionValidity())
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize session store", err, nil)
		}
		sessions = mongoSessions
	}

	// Services
	exchange := provider.NewClient(cfg.ProviderTimeout())
	registry := services.NewRegistryService(configRepo, exchange)
	resolver := services.NewResolverService(accountRepo, cfg.AutoProvision)
	finalizer := services.NewFinalizerService(sessions, cfg.FinalizeTokenTTL(), cfg.LandingURL)
	pairing := services.NewPairingService(
		pairingRepo, configRepo, tokenRepo, accountRepo,
		exchange, resolver, finalizer,
		cfg.PairingTTL(), cfg.PairingRetention(),
	)

	// Background sweeper: expiry transitions, retention purge, stale
	// session cleanup. Removal is by sweep, not storage-native TTL, so a
	// poll between expiry and sweep still reads a coherent status.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				pairing.Sweep(sweepCtx)
				cutoff := time.Now().UTC().Add(-cfg.SessionValidity())
				if _, err := sessions.SweepOlderThan(sweepCtx, cutoff); err != nil {
					appLogger.Error(sweepCtx, "Session sweep failed", err, nil)
				}
			}
		}
	}()

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := echoapi.NewFederationAPI(pairing, finalizer, registry, sessions, cfg.TenantKey)
	api.RegisterRoutes(e)

	go func() {
		appLogger.Info(context.Background(), "HTTP server listening on port "+cfg.HTTPPort)
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(context.Background(), "Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	stopSweeper()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err, nil)
	}
	finalizer.Stop()
	exchange.Close()
	if memorySessions != nil {
		memorySessions.Close()
	}
	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
