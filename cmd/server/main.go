package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/alerts"
	"github.com/coinfolio/backend/internal/api"
	"github.com/coinfolio/backend/internal/auth"
	"github.com/coinfolio/backend/internal/cache"
	"github.com/coinfolio/backend/internal/config"
	"github.com/coinfolio/backend/internal/db"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/health"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/market"
	"github.com/coinfolio/backend/internal/metrics"
	"github.com/coinfolio/backend/internal/middleware"
	"github.com/coinfolio/backend/internal/portfolio"
	"github.com/coinfolio/backend/internal/settings"
	"github.com/coinfolio/backend/internal/storage"
	"github.com/coinfolio/backend/internal/websocket"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(&logger.Config{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	logger.SetDefault(appLog)
	apperrors.SetDebug(!cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLog); err != nil {
		appLog.Error(context.Background(), "server exited", nil, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, appLog *logger.Logger) error {
	log := appLog.WithComponent("server")
	m := metrics.New()

	database, err := db.Open(ctx, db.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DSN(),
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	// Market data cache: redis when configured so instances share entries
	var (
		marketCache cache.Store
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.MarketCacheTTL,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		marketCache, redisClient = rc, rc.Client()
	} else {
		mc, err := cache.NewMemory(cfg.MarketCacheMaxEntries, cfg.MarketCacheTTL, nil)
		if err != nil {
			return err
		}
		marketCache = mc
	}

	gatewayOpts := market.Options{
		BaseURL:        cfg.MarketAPIBaseURL,
		Timeout:        cfg.MarketRequestTimeout,
		Cache:          marketCache,
		Limiter:        market.NewLimiter(cfg.MarketRateLimitPerMinute, cfg.MarketRateLimitBurst),
		MaxQueueWait:   cfg.MarketMaxQueueWait,
		MaxConcurrency: cfg.MarketMaxConcurrency,
		Metrics:        m,
	}
	if cfg.MarketRetryEnabled {
		gatewayOpts.Retry = apperrors.MarketDataRetryConfig()
	}
	gateway := market.New(gatewayOpts)

	// Repositories
	users := db.NewUserRepository(database)
	sessions := db.NewSessionRepository(database)
	holdings := db.NewHoldingRepository(database)
	coins := db.NewCoinRepository(database)
	alertRepo := db.NewAlertRepository(database)
	settingsRepo := db.NewSettingsRepository(database)
	activityRepo := db.NewActivityRepository(database)

	activitySvc := activity.NewService(activityRepo)
	authSvc := auth.NewService(users, sessions, auth.Config{
		Secret:      cfg.JWTSecret,
		Issuer:      cfg.JWTIssuer,
		SessionTTL:  cfg.SessionTTL,
		RememberTTL: cfg.SessionRememberTTL,
		BcryptCost:  cfg.PasswordHashCost,
	})
	settingsSvc := settings.NewService(settingsRepo, activitySvc)

	hub := websocket.NewHub(m)
	notifier := websocket.NewNotifier(hub)

	alertSvc := alerts.NewService(alerts.Options{
		Store:       alertRepo,
		Coins:       gateway,
		Activity:    activitySvc,
		Notifier:    notifier,
		Preferences: settingsSvc,
		Metrics:     m,
	})

	portfolioOpts := portfolio.Options{
		Holdings: holdings,
		Coins:    coins,
		Prices:   gateway,
		Activity: activitySvc,
	}

	checkerCfg := &health.CheckerConfig{
		DB:          database.DB,
		Redis:       redisClient,
		MarketCheck: gateway.Ping,
		Version:     version,
		Timeout:     5 * time.Second,
	}

	if cfg.StorageEnabled() {
		store, err := storage.New(&storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
			URLExpiry: cfg.ExportURLExpiry,
		})
		if err != nil {
			return err
		}
		// Object storage often comes up after the API in local stacks
		if err := apperrors.Retry(ctx, apperrors.StorageRetryConfig(), store.EnsureBucket); err != nil {
			return err
		}
		portfolioOpts.Exports = store
		checkerCfg.StorageCheck = store.Ping
	} else {
		log.Warn(ctx, "object storage not configured, portfolio export disabled", nil)
	}

	portfolioSvc := portfolio.NewService(portfolioOpts)
	refresher := portfolio.NewRefresher(portfolio.RefresherOptions{
		Store:    holdings,
		Prices:   gateway,
		Alerts:   alertSvc,
		Notifier: notifier,
		Metrics:  m,
	})

	authLimiter := middleware.NewIPRateLimiter(cfg.AuthRateLimitPerMin, cfg.AuthRateLimitPerMin)

	router := api.NewRouter(api.Options{
		AuthService: authSvc,
		Auth: auth.NewHandlers(authSvc, auth.CookieConfig{
			Name:   cfg.SessionCookieName,
			Secure: cfg.SessionCookieSecure,
		}, activitySvc),
		CookieName:     cfg.SessionCookieName,
		Market:         market.NewHandlers(gateway),
		Portfolio:      portfolio.NewHandlers(portfolioSvc),
		Alerts:         alerts.NewHandlers(alertSvc),
		Settings:       settings.NewHandlers(settingsSvc),
		Activity:       activitySvc,
		WebSocket:      websocket.NewHandler(hub, cfg.AllowedOrigins),
		Health:         health.NewHandler(health.NewChecker(checkerCfg)),
		Metrics:        m,
		AuthLimiter:    authLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         appLog,
	})

	// Background loops stop with ctx
	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	background(func() { hub.Run(ctx) })
	background(func() { refresher.Run(ctx, cfg.PriceRefreshInterval) })
	background(func() { authSvc.RunJanitor(ctx, cfg.SessionPurgeInterval, m) })
	background(func() { authLimiter.Cleanup(ctx, time.Minute) })

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", map[string]any{
			"addr":    cfg.ServerAddr,
			"env":     cfg.AppEnv,
			"version": version,
			"storage": cfg.StorageEnabled(),
			"redis":   redisClient != nil,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "graceful shutdown failed", nil, err)
	}

	wg.Wait()
	return nil
}
