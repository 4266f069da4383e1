package api

import (
	"context"
	"encoding/binary"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/ingest"
	"github.com/clipvault/clipvault/internal/logger"
)

const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// frameHeaderSize is the big-endian uint32 width and height preceding
	// the pixels of a frame feed message.
	frameHeaderSize = 8

	// maxFrameMessage caps one frame feed message.
	maxFrameMessage = frameHeaderSize + 256<<20

	// maxControlMessage caps messages read on the status stream.
	maxControlMessage = 512
)

// The API listens on loopback for the local UI shell, whose origin varies
// by platform webview.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamOCRStatus handles GET /api/v1/ocr/status/ws, pushing the engine
// status as JSON every status interval until the client goes away.
func (c *Controller) StreamOCRStatus(ctx echo.Context) error {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.log.Warn("status stream upgrade failed", logger.Error(err))
		return nil
	}
	defer conn.Close()

	// the read side only detects disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxControlMessage)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(c.statusInterval)
	defer ticker.Stop()

	reqCtx := ctx.Request().Context()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(c.engine.Status(reqCtx)); err != nil {
			return nil
		}
		select {
		case <-gone:
			return nil
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return nil
		case <-ticker.C:
		}
	}
}

// HandleFrameFeed handles GET /api/v1/frames/ws. Each binary message is
// one captured frame and is published to the ingestion pipeline. Malformed
// messages are reported back as a text message and skipped.
func (c *Controller) HandleFrameFeed(ctx echo.Context) error {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.log.Warn("frame feed upgrade failed", logger.Error(err))
		return nil
	}
	defer conn.Close()

	// a shutdown closes the connection so the blocked read returns
	stop := context.AfterFunc(c.ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(maxFrameMessage)
	log := c.log.WithContext(ctx.Request().Context())
	log.Info("frame feed connected", logger.String("remote", ctx.RealIP()))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.ctx.Err() == nil {
				log.Warn("frame feed closed unexpectedly", logger.Error(err))
			}
			return nil
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		frame, err := decodeFrameMessage(data)
		if err != nil {
			log.Warn("rejected frame", logger.Error(err))
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if werr := conn.WriteMessage(websocket.TextMessage, []byte(err.Error())); werr != nil {
				return nil
			}
			continue
		}
		c.frames.Publish(frame)
	}
}

// decodeFrameMessage splits a frame feed message into its header and
// pixels.
func decodeFrameMessage(data []byte) (ingest.Frame, error) {
	if len(data) < frameHeaderSize {
		return ingest.Frame{}, errors.Newf("frame message has %d bytes, shorter than its header", len(data)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	frame := ingest.Frame{
		Width:  int(binary.BigEndian.Uint32(data[0:4])),
		Height: int(binary.BigEndian.Uint32(data[4:8])),
		Pix:    data[frameHeaderSize:],
	}
	if err := frame.Validate(); err != nil {
		return ingest.Frame{}, err
	}
	return frame, nil
}
