package middleware

import (
	"github.com/jmehdipour/number-verification/internal/request"
	echo "github.com/labstack/echo/v4"
)

// ClientIP stores the resolved client address on the request context so the
// service layer can read it without depending on echo.
func ClientIP() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(request.WithClientIP(req.Context(), c.RealIP())))
			return next(c)
		}
	}
}
