package handlers

import (
	"context"
	"net/http"
	"strings"

	"mailbot/internal/models"

	"github.com/labstack/echo/v4"
)

// ConversationReader is the history surface the conversation handler needs.
type ConversationReader interface {
	BySender(ctx context.Context, sender string) ([]models.ConversationTurn, error)
}

// ConversationsHandler returns the stored turn sequence for one sender.
func ConversationsHandler(turns ConversationReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		sender := strings.TrimSpace(c.Param("sender"))
		if sender == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "sender is required"})
		}

		sequence, err := turns.BySender(c.Request().Context(), sender)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}
		if sequence == nil {
			sequence = []models.ConversationTurn{}
		}
		return c.JSON(http.StatusOK, sequence)
	}
}
