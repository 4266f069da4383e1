package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/ocr"
)

// PauseResponse reports whether a running download was asked to stop.
type PauseResponse struct {
	Paused bool `json:"paused"`
}

// GetOCRStatus handles GET /api/v1/ocr/status.
func (c *Controller) GetOCRStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.Status(ctx.Request().Context()))
}

// PrepareOCR handles POST /api/v1/ocr/prepare. Installation runs in the
// background; progress is observed through the status endpoints. A second
// call while one runs is a no-op.
func (c *Controller) PrepareOCR(ctx echo.Context) error {
	c.goBackground(func(bg context.Context) {
		outcome, err := c.engine.Prepare(bg)
		if err != nil {
			c.log.Error("engine preparation failed", logger.Error(err))
			return
		}
		c.log.Info("engine preparation finished", logger.String("outcome", outcome.String()))
	})
	return ctx.JSON(http.StatusAccepted, c.engine.Status(ctx.Request().Context()))
}

// PauseOCR handles POST /api/v1/ocr/pause. The download stops after its
// current chunk and resumes from there on the next prepare.
func (c *Controller) PauseOCR(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, PauseResponse{Paused: c.engine.Pause()})
}

var _ Engine = (*ocr.Engine)(nil)
