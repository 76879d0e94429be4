package handlers

import (
	"context"
	"net/http"
	"time"

	"mailbot/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
)

// HealthHandler handles basic health check requests.
func HealthHandler(version string, db *sqlx.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		response := models.HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Version:   version,
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				response.Status = "unhealthy"
				return c.JSON(http.StatusServiceUnavailable, response)
			}
		}

		return c.JSON(http.StatusOK, response)
	}
}
