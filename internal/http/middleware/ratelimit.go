package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/number-verification/internal/metrics"
	"github.com/jmehdipour/number-verification/internal/ratelimit"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const rateLimitedMessage = "Rate limit exceeded. Please try again later."

// RateLimitConfig config for the per-client token bucket middleware.
type RateLimitConfig struct {
	Limiter    ratelimit.Limiter
	Logger     *zap.Logger
	PathPrefix string // only paths under this prefix are limited, default "/api/"
}

// RateLimitMiddleware admits or rejects each request by client ip. A limiter
// error lets the request through and is logged.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/api/"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Limiter == nil || !strings.HasPrefix(c.Request().URL.Path, cfg.PathPrefix) {
				return next(c)
			}

			ip := c.RealIP()
			d, err := cfg.Limiter.Allow(c.Request().Context(), ip)
			if err != nil {
				cfg.Logger.Warn("rate limiter unavailable, admitting request",
					zap.String("client_ip", ip), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				metrics.RateLimitRejections.Inc()
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": rateLimitedMessage})
			}
			return next(c)
		}
	}
}
