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
	"github.com/rs/zerolog"

	"github.com/renalcare/hdschedule/internal/config"
	"github.com/renalcare/hdschedule/internal/domain/hdschedule"
	"github.com/renalcare/hdschedule/internal/platform/auth"
	"github.com/renalcare/hdschedule/internal/platform/db"
	"github.com/renalcare/hdschedule/internal/platform/middleware"
	"github.com/renalcare/hdschedule/internal/platform/websocket"
)

const version = "0.1.0"

// backend is what the HTTP server is assembled from.
type backend struct {
	repo   hdschedule.AppointmentRepository
	pinger db.Pinger // nil for the memory store
}

func newServer(cfg *config.Config, be backend, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	hub := websocket.NewHub(logger)
	svc := hdschedule.NewService(be.repo, hub, logger)

	api := e.Group("/api/hd-schedule", authMW, middleware.RateLimit(rateLimitCfg), middleware.BodyLimit("64K"))
	hdschedule.NewHandler(svc).RegisterRoutes(api)

	ws := e.Group("", authMW)
	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(ws)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(be.pinger))

	return e
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (backend, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory appointment store; bookings are lost on restart")
		return backend{repo: hdschedule.NewMemoryRepo()}, func() {}, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return backend{}, nil, err
	}
	logger.Info().Msg("connected to database")
	return backend{repo: hdschedule.NewAppointmentRepoPG(pool), pinger: pool}, pool.Close, nil
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	e := newServer(cfg, be, logger)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
