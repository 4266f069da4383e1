package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/logger"
)

// GetSettings handles GET /api/v1/settings.
func (c *Controller) GetSettings(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.prefs.Get())
}

// UpdateSettings handles PATCH /api/v1/settings. Only fields present in
// the body change.
func (c *Controller) UpdateSettings(ctx echo.Context) error {
	var update conf.Preferences
	if err := ctx.Bind(&update); err != nil {
		return c.HandleError(ctx, badRequest("invalid settings body"), "Invalid settings")
	}

	next, err := c.prefs.Update(update)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update settings")
	}
	c.log.WithContext(ctx.Request().Context()).Info("settings updated",
		logger.String("database_limit_type", string(next.LimitType())),
		logger.Int64("database_limit", next.Limit()),
		logger.Bool("ocr_feature", next.OCREnabled()))
	return ctx.JSON(http.StatusOK, next)
}
