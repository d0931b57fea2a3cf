package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/number-verification/internal/config"
	"github.com/jmehdipour/number-verification/internal/http/middleware"
	"github.com/jmehdipour/number-verification/internal/metrics"
	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmehdipour/number-verification/internal/ratelimit"
	"github.com/jmehdipour/number-verification/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Verifier is the orchestrator behind the two CAMARA endpoints.
type Verifier interface {
	Verify(ctx context.Context, phoneNumber, correlationID string) (model.VerificationResult, error)
	Retrieve(ctx context.Context, correlationID string) (model.PhoneNumberResult, error)
}

type Deps struct {
	Verifier Verifier
	Limiter  ratelimit.Limiter
	Logs     repository.VerificationLogsRepository    // MySQL audit queries
	Stats    repository.CHVerificationLogsRepository // optional, ClickHouse
	Logger   *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	if cfg.HTTP.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	e.Use(echoMid.Recover(), echoMid.Logger(), middleware.ClientIP())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Auth.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Limiter: d.Limiter,
		Logger:  d.Logger.Named("ratelimit"),
	})

	// routes
	v1 := e.Group("/api/v1", authMW, rlMW)
	v1.POST("/verify", verifyHandler(d.Verifier))
	v1.GET("/device-phone-number", devicePhoneNumberHandler(d.Verifier))
	v1.GET("/audit/logs", listLogsHandler(d.Logs))
	v1.GET("/audit/clients/:ip/count", clientCountHandler(d.Logs))
	v1.GET("/audit/stats", statsHandler(d.Stats))

	return &Server{e: e, log: d.Logger}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// parseTimeParam reads an RFC3339 query parameter; empty yields def.
func parseTimeParam(c echo.Context, name string, def time.Time) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, raw)
}
