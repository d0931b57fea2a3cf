package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jmehdipour/number-verification/internal/service/verification"
	"github.com/jmehdipour/number-verification/internal/util"
	"github.com/labstack/echo/v4"
)

const correlatorHeader = "x-correlator"

type verifyReq struct {
	PhoneNumber   string `json:"phoneNumber"`
	CorrelationID string `json:"correlationId"`
}

func verifyHandler(svc Verifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req verifyReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		// Normalize
		phone := util.NormalizePhone(strings.TrimSpace(req.PhoneNumber))
		if !util.ValidE164(phone) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "phoneNumber must be in E.164 format"})
		}

		corr := correlationID(c, req.CorrelationID)
		res, err := svc.Verify(c.Request().Context(), phone, corr)
		if err != nil {
			return providerError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func devicePhoneNumberHandler(svc Verifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		corr := correlationID(c, "")
		res, err := svc.Retrieve(c.Request().Context(), corr)
		if err != nil {
			return providerError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// correlationID picks the body value, then the x-correlator header, then a
// fresh id, and echoes the choice back.
func correlationID(c echo.Context, fromBody string) string {
	id := strings.TrimSpace(fromBody)
	if id == "" {
		id = strings.TrimSpace(c.Request().Header.Get(correlatorHeader))
	}
	if id == "" {
		id = util.New()
	}
	c.Response().Header().Set(correlatorHeader, id)
	return id
}

func providerError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, verification.ErrNoDeviceNumber):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "device phone number not available"})
	case errors.Is(err, verification.ErrProviderUnavailable):
		c.Logger().Warnf("provider unavailable: %v", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "provider unavailable"})
	default:
		c.Logger().Errorf("verification failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
