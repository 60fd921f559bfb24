package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/wellsession/config"
	"github.com/mohammad-safakhou/wellsession/internal/logging"
	"github.com/mohammad-safakhou/wellsession/internal/pagination"
	"github.com/mohammad-safakhou/wellsession/internal/runtime"
	"github.com/mohammad-safakhou/wellsession/internal/search"
	"github.com/mohammad-safakhou/wellsession/internal/session"
	"github.com/mohammad-safakhou/wellsession/internal/store"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Users    UserStore
	Sessions SessionService
	Revoker  TokenRevoker  // optional
	Throttle LoginThrottle // optional
	// Health reports whether the backing services are reachable.
	Health func(ctx context.Context) error
}

// NewEcho builds the HTTP API.
func NewEcho(cfg *config.Config, logger zerolog.Logger, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logging.Component(logger, "http"))

	e.Use(requestLogger(logging.Component(logger, "access")))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit("1M"))
	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		ExposeHeaders:    []string{echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				logger.Warn().Err(err).Msg("health check failed")
				return c.String(http.StatusServiceUnavailable, "unavailable")
			}
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	registerDocs(e, "docs/openapi.yaml")

	var rev runtime.Revoker
	if deps.Revoker != nil {
		rev = deps.Revoker
	}
	secret := []byte(cfg.Auth.JWTSecret)
	authMW := runtime.EchoAuthMiddleware(secret, cfg.Auth.CookieName, rev)

	api := e.Group("/api/v1")
	auth := &AuthHandler{
		Store:        deps.Users,
		Secret:       secret,
		TTL:          cfg.Auth.TokenTTL,
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.General.IsProd(),
		Revoker:      deps.Revoker,
		Throttle:     deps.Throttle,
		Logger:       logging.Component(logger, "auth"),
	}
	auth.Register(api, authMW)

	sh := &SessionsHandler{
		Sessions: deps.Sessions,
		Limits: pagination.Limits{
			Default: cfg.Pagination.DefaultLimit,
			Max:     cfg.Pagination.MaxLimit,
			Exact:   cfg.Pagination.ExactHasMore,
		},
	}
	sh.Register(api, authMW)
	return e
}

// Run wires the service from cfg and serves until ctx is cancelled, then
// drains in-flight requests and closes the backing connections.
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, version string) error {
	tele, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tele.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	if cfg.Server.AutoMigrate {
		if err := Migrate(cfg.Server.MigrationsDir, dsn, "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	st, err := store.NewWithDSN(ctx, dsn, cfg.Storage.Postgres.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer st.Close()

	rdb, err := runtime.NewRedisClient(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	opts := session.Options{
		StrictPublish: cfg.Sessions.StrictPublish,
		Logger:        logging.Component(logger, "sessions"),
	}
	var idx *search.Index
	if cfg.Search.Enabled {
		if idx, err = search.New(); err != nil {
			return fmt.Errorf("search index: %w", err)
		}
		defer idx.Close()
		opts.Index = idx
	}
	svc := session.NewService(st, opts)
	var sched *Scheduler
	if idx != nil {
		sched = &Scheduler{Index: idx, Source: svc, Spec: cfg.Search.RebuildCron, Logger: logging.Component(logger, "scheduler")}
	}

	e := NewEcho(cfg, logger, Deps{
		Users:    st,
		Sessions: svc,
		Revoker:  &runtime.TokenRevoker{Rdb: rdb},
		Throttle: &runtime.LoginLimiter{Rdb: rdb, Max: cfg.Auth.MaxLoginAttempts, Window: cfg.Auth.LoginLockout},
		Health: func(ctx context.Context) error {
			if err := st.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return rdb.Ping(ctx).Err()
		},
	})
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var schedDone <-chan struct{}
	initial := make(chan struct{})
	if sched != nil {
		go func() {
			defer close(initial)
			sched.RunNow(runCtx)
		}()
		if cfg.Search.RebuildCron != "" {
			schedDone = sched.Start(runCtx)
		}
	} else {
		close(initial)
	}
	drain := func() {
		stop()
		<-initial
		if schedDone != nil {
			<-schedDone
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Address).Msg("listening")
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		drain()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	drain()
	return nil
}
