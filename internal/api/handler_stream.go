package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/ryanbastic/go-pixelplace/internal/broadcast"
	"github.com/ryanbastic/go-pixelplace/internal/metrics"
)

// StreamHandler pushes committed pixels to live viewers over server-sent events.
type StreamHandler struct {
	hub    *broadcast.Hub
	logger *slog.Logger
}

func NewStreamHandler(hub *broadcast.Hub, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

func registerStreamRoutes(api huma.API, h *StreamHandler) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-pixels",
		Method:      http.MethodGet,
		Path:        "/v1/pixels/stream",
		Summary:     "Stream committed pixels",
		Tags:        []string{"pixels"},
	}, map[string]any{
		"pixel": PixelResponse{},
	}, h.Stream)
}

// Stream sends one "pixel" event per commit until the client goes away.
// A viewer that falls behind misses events rather than stalling placements.
func (h *StreamHandler) Stream(ctx context.Context, _ *struct{}, send sse.Sender) {
	events, cancel := h.hub.Subscribe()
	defer cancel()
	defer metrics.StreamViewerConnected()()

	h.logger.Debug("stream viewer connected", "request_id", RequestIDFrom(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := sse.Message{ID: int(ev.Pixel.Seq), Data: pixelToResponse(ev.Pixel)}
			if err := send(msg); err != nil {
				h.logger.Debug("stream viewer gone", "error", err)
				return
			}
		}
	}
}
