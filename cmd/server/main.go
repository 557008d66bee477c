package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/api"
	"github.com/paperpress/blog-api/cache"
	redisc "github.com/paperpress/blog-api/cache/redis"
	"github.com/paperpress/blog-api/config"
	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/internal/metrics"
	applog "github.com/paperpress/blog-api/log"
	"github.com/paperpress/blog-api/mailer"
	"github.com/paperpress/blog-api/mongodb"
	"github.com/paperpress/blog-api/services"
	"github.com/paperpress/blog-api/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applog.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tp, err := tracing.InitTracerProvider("blog-api")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer provider")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut tracer provider down")
		}
	}()

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer mongodb.CloseMongoDB(context.Background())
	db := mongodb.GetDB()

	actionTokens, err := mongodb.NewActionTokenRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize action token repository")
	}
	refreshTokens, err := mongodb.NewRefreshTokenRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize refresh token repository")
	}
	revokedTokens, err := mongodb.NewRevokedTokenRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize revoked token repository")
	}
	twoFactorRepo := mongodb.NewTwoFactorRepository(db)

	var revocationCache cache.RevocationCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		revocationCache = redisc.NewRevocationCache(rdb, "blog")
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis revocation cache")
	} else {
		revocationCache = cache.NewMemoryRevocationCache()
		log.Info().Msg("Using in-memory revocation cache")
	}
	defer revocationCache.Close()

	signer, err := services.NewSigner(cfg.JWTSecretKey, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize credential signer")
	}

	limiter := services.NewTokenRateLimiter(actionTokens, policiesFromConfig(cfg))
	tokenService := services.NewTokenService(actionTokens, limiter, mailer.NewLogNotifier(), cfg.UsedTokenRetention)
	sessionService := services.NewRefreshSessionService(refreshTokens, signer, services.SessionPolicy{
		TokenTTL:         cfg.RefreshTokenTTL,
		MaxPerUser:       cfg.MaxSessionsPerUser,
		CreatePerHour:    cfg.SessionRatePerHour,
		RotationEnabled:  cfg.RotationEnabled,
		RevokedRetention: cfg.RevokedRetention,
	})
	blacklistService := services.NewBlacklistService(revokedTokens, revocationCache, cfg.RevocationCacheTTL, cfg.RevocationRatePerHour)
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, cfg.TOTPIssuer)

	cleanup := services.NewCleanupService(tokenService, sessionService, blacklistService, cfg.CleanupInterval)
	cleanup.Start()
	defer cleanup.Stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics.Register(registry)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api.NewAuthAPI(tokenService, sessionService, blacklistService, twoFactorService, signer).RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// policiesFromConfig maps the configured TTLs and rate caps onto per-category
// issuance policies.
func policiesFromConfig(cfg *config.Config) map[domain.TokenCategory]services.CategoryPolicy {
	return map[domain.TokenCategory]services.CategoryPolicy{
		domain.CategoryEmailVerification: {
			TTL:        cfg.EmailVerificationTTL,
			RateMax:    cfg.EmailVerificationRateMax,
			RateWindow: cfg.DefaultRateWindow,
			Supersede:  true,
		},
		domain.CategoryPasswordReset: {
			TTL:        cfg.PasswordResetTTL,
			RateMax:    cfg.PasswordResetRateMax,
			RateWindow: cfg.DefaultRateWindow,
			Supersede:  true,
		},
		domain.CategoryNewsletterConfirm: {
			TTL:        cfg.NewsletterConfirmTTL,
			RateMax:    cfg.NewsletterConfirmRateMax,
			RateWindow: cfg.DefaultRateWindow,
			Supersede:  true,
		},
		domain.CategoryNewsletterUnsubscribe: {
			TTL:        cfg.NewsletterUnsubTTL,
			RateMax:    cfg.NewsletterUnsubRateMax,
			RateWindow: cfg.DefaultRateWindow,
			Supersede:  false,
		},
		domain.CategoryNewsletterDataRequest: {
			TTL:        cfg.NewsletterDataReqTTL,
			RateMax:    cfg.NewsletterDataReqRateMax,
			RateWindow: cfg.NewsletterDataReqWindow,
			Supersede:  true,
		},
	}
}
