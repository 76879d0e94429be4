package handlers

import (
	"context"
	"errors"
	"net/http"

	"mailbot/internal/models"
	"mailbot/internal/orchestrator"

	"github.com/labstack/echo/v4"
)

// Pipeline is the orchestrator surface the control handlers need.
type Pipeline interface {
	Status() orchestrator.Status
	Trigger(ctx context.Context) error
}

// StatusHandler returns the orchestrator status snapshot.
func StatusHandler(pipeline Pipeline) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := pipeline.Status()
		return c.JSON(http.StatusOK, models.StatusResponse{
			Running:        status.Running,
			LastRunAt:      status.LastRunAt,
			LastOutcome:    status.LastOutcome,
			ProcessedCount: status.ProcessedCount,
			LastError:      status.LastError,
		})
	}
}

// TriggerHandler starts a pipeline run in the background. The conflict
// answer comes from the run-lock acquisition itself, so two simultaneous
// triggers never both get a 202.
func TriggerHandler(pipeline Pipeline) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := pipeline.Trigger(context.Background()); err != nil {
			if errors.Is(err, orchestrator.ErrAlreadyRunning) {
				return c.JSON(http.StatusConflict, models.TriggerResponse{
					Accepted: false,
					Message:  "a run is already in progress",
				})
			}
			return c.JSON(http.StatusInternalServerError, models.TriggerResponse{
				Accepted: false,
				Message:  err.Error(),
			})
		}

		return c.JSON(http.StatusAccepted, models.TriggerResponse{
			Accepted: true,
			Message:  "run started",
		})
	}
}
