package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmehdipour/number-verification/internal/repository"
	"github.com/labstack/echo/v4"
)

// logView is the JSON form of an audit row; only the digest is exposed.
type logView struct {
	ID                string    `json:"id"`
	CorrelationID     string    `json:"correlationId"`
	Operation         string    `json:"operation"`
	HashedPhoneNumber string    `json:"hashedPhoneNumber,omitempty"`
	Status            string    `json:"status"`
	ClientIP          string    `json:"clientIp"`
	Timestamp         time.Time `json:"timestamp"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
}

func toViews(rows []model.VerificationLog) []logView {
	out := make([]logView, 0, len(rows))
	for _, l := range rows {
		out = append(out, logView{
			ID:                l.ID,
			CorrelationID:     l.CorrelationID,
			Operation:         l.Operation.String(),
			HashedPhoneNumber: l.HashedPhoneNumber,
			Status:            l.Status.String(),
			ClientIP:          l.ClientIP,
			Timestamp:         l.Timestamp,
			ErrorMessage:      l.ErrorMessage.String,
		})
	}
	return out
}

func listLogsHandler(repo repository.VerificationLogsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if corr := strings.TrimSpace(c.QueryParam("correlationId")); corr != "" {
			rows, err := repo.FindByCorrelationID(ctx, corr)
			if err != nil {
				c.Logger().Errorf("audit lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
			}
			return c.JSON(http.StatusOK, map[string]any{"count": len(rows), "results": toViews(rows)})
		}

		if c.QueryParam("from") == "" || c.QueryParam("to") == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "correlationId or from and to are required"})
		}
		from, err := parseTimeParam(c, "from", time.Time{})
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid from"})
		}
		to, err := parseTimeParam(c, "to", time.Time{})
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid to"})
		}
		if !from.Before(to) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "from must be before to"})
		}

		limit := 100
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		rows, err := repo.FindByTimeRange(ctx, from, to, limit)
		if err != nil {
			c.Logger().Errorf("audit range query failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"count":   len(rows),
			"results": toViews(rows),
		})
	}
}

func clientCountHandler(repo repository.VerificationLogsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := strings.TrimSpace(c.Param("ip"))
		if ip == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		since, err := parseTimeParam(c, "since", time.Now().Add(-time.Hour))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid since"})
		}

		n, err := repo.CountByClientSince(c.Request().Context(), ip, since)
		if err != nil {
			c.Logger().Errorf("audit count failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"clientIp": ip,
			"since":    since.UTC(),
			"count":    n,
		})
	}
}

func statsHandler(repo repository.CHVerificationLogsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if repo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "analytics store not configured"})
		}
		now := time.Now().UTC()
		from, err := parseTimeParam(c, "from", now.Add(-24*time.Hour))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid from"})
		}
		to, err := parseTimeParam(c, "to", now)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid to"})
		}

		rows, err := repo.CountByStatus(c.Request().Context(), from, to)
		if err != nil {
			c.Logger().Errorf("clickhouse stats failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"from":    from.UTC(),
			"to":      to.UTC(),
			"results": rows,
		})
	}
}
