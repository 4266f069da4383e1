package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/ingest"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/search"
)

// DeleteRequest lists records to remove.
type DeleteRequest struct {
	IDs []int64 `json:"ids"`
}

// DeleteResponse reports how many records were removed.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// UploadResponse reports how many files were accepted for ingestion.
type UploadResponse struct {
	Accepted int `json:"accepted"`
}

// SearchImages handles POST /api/v1/images/search. An empty body is a
// query with every field absent.
func (c *Controller) SearchImages(ctx echo.Context) error {
	var q search.Query
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&q); err != nil {
			return c.HandleError(ctx, badRequest("invalid query body"), "Invalid search query")
		}
	}

	page, err := c.search.Search(ctx.Request().Context(), q)
	if err != nil {
		return c.HandleError(ctx, err, "Search failed")
	}
	return ctx.JSON(http.StatusOK, page)
}

// DeleteImages handles DELETE /api/v1/images.
func (c *Controller) DeleteImages(ctx echo.Context) error {
	var req DeleteRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("invalid delete body"), "Invalid delete request")
	}
	if len(req.IDs) == 0 {
		return c.HandleError(ctx, badRequest("ids must not be empty"), "Invalid delete request")
	}

	n, err := c.images.DeleteByIDs(ctx.Request().Context(), req.IDs)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to delete images")
	}
	c.storeMetrics.RecordDeleted(n)
	c.log.WithContext(ctx.Request().Context()).Info("images deleted",
		logger.Int("requested", len(req.IDs)),
		logger.Int64("deleted", n))
	return ctx.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}

// GetImageRaw handles GET /api/v1/images/:id/raw, returning the stored PNG
// so the shell can place it back on the clipboard.
func (c *Controller) GetImageRaw(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return c.HandleError(ctx, badRequest("id must be an integer"), "Invalid image id")
	}

	img, err := c.images.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Image not found")
	}
	return ctx.Blob(http.StatusOK, "image/png", img.Image)
}

// UploadImages handles POST /api/v1/images/upload with one or more
// multipart "files". Every file is decoded before the request returns, so
// an unreadable file rejects the whole batch; storing runs in the
// background.
func (c *Controller) UploadImages(ctx echo.Context) error {
	form, err := ctx.MultipartForm()
	if err != nil {
		return c.HandleError(ctx, badRequest("expected multipart form"), "Invalid upload")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return c.HandleError(ctx, badRequest("no files in upload"), "Invalid upload")
	}

	frames := make([]ingest.Frame, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return c.HandleError(ctx, err, "Failed to read upload")
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return c.HandleError(ctx, err, "Failed to read upload")
		}
		frame, err := ingest.DecodeBytes(data)
		if err != nil {
			return c.HandleError(ctx, err, "Unsupported image "+fh.Filename)
		}
		frames = append(frames, frame)
	}

	c.goBackground(func(bg context.Context) {
		if _, err := c.ingest.IngestFrames(bg, frames); err != nil {
			c.log.Warn("upload ingestion failed",
				logger.Int("files", len(frames)),
				logger.Error(err))
		}
	})
	return ctx.JSON(http.StatusAccepted, UploadResponse{Accepted: len(frames)})
}
