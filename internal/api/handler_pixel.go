package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/ryanbastic/go-pixelplace/internal/admission"
	"github.com/ryanbastic/go-pixelplace/internal/metrics"
	"github.com/ryanbastic/go-pixelplace/internal/pixel"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
	"github.com/samber/lo"
)

// --- Huma Input/Output types ---

// PlacePixelBody leaves every field optional so the gate can report all
// missing fields at once instead of huma failing on the first. The
// structural fields are untyped: a wrong JSON type is reported by the gate
// as missing_fields rather than rejected by schema validation.
type PlacePixelBody struct {
	X        any    `json:"x,omitempty" doc:"Column, 0-based integer" required:"false"`
	Y        any    `json:"y,omitempty" doc:"Row, 0-based integer" required:"false"`
	Color    any    `json:"color,omitempty" doc:"#RRGGBB hex color string" required:"false" example:"#FF00AA"`
	Link     string `json:"link,omitempty" doc:"Optional absolute URL" required:"false"`
	UserID   any    `json:"user_id,omitempty" doc:"Placing user string" required:"false"`
	UserName string `json:"user_name,omitempty" doc:"Optional display name" required:"false"`
}

type PlacePixelInput struct {
	Body PlacePixelBody
}

type PixelResponse struct {
	ID        uuid.UUID `json:"id" doc:"Pixel UUID"`
	Seq       int64     `json:"seq" doc:"Commit sequence number"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Color     string    `json:"color" example:"#FF00AA"`
	Link      *string   `json:"link"`
	OwnerID   string    `json:"owner_id"`
	OwnerName *string   `json:"owner_name"`
	CreatedAt time.Time `json:"created_at"`
}

type PlacementResponse struct {
	Pixel       PixelResponse `json:"pixel"`
	CooldownEnd time.Time     `json:"cooldown_end" doc:"When the user may place again"`
}

type PlacePixelOutput struct {
	Body PlacementResponse
}

type ListPixelsInput struct {
	Cursor string `query:"cursor" doc:"Opaque cursor from a previous page"`
	Limit  int    `query:"limit" doc:"Page size" minimum:"0" maximum:"5000"`
}

type PixelPage struct {
	Pixels     []PixelResponse `json:"pixels"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

type ListPixelsOutput struct {
	Body PixelPage
}

type GetPixelInput struct {
	X int `path:"x" doc:"Column"`
	Y int `path:"y" doc:"Row"`
}

type GetPixelOutput struct {
	Body PixelResponse
}

type CanvasResponse struct {
	Width           int `json:"width" example:"600"`
	Height          int `json:"height" example:"400"`
	CooldownSeconds int `json:"cooldown_seconds" example:"600"`
}

type GetCanvasOutput struct {
	Body CanvasResponse
}

// --- Handler ---

type PixelHandler struct {
	gate   *admission.Gate
	pixels storage.PixelStore
	logger *slog.Logger
}

func NewPixelHandler(gate *admission.Gate, pixels storage.PixelStore, logger *slog.Logger) *PixelHandler {
	return &PixelHandler{gate: gate, pixels: pixels, logger: logger}
}

func registerPixelRoutes(api huma.API, h *PixelHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "place-pixel",
		Method:        http.MethodPost,
		Path:          "/v1/pixels",
		Summary:       "Place a pixel",
		Tags:          []string{"pixels"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusTooManyRequests},
	}, h.PlacePixel)

	huma.Register(api, huma.Operation{
		OperationID: "list-pixels",
		Method:      http.MethodGet,
		Path:        "/v1/pixels",
		Summary:     "List committed pixels in commit order",
		Tags:        []string{"pixels"},
	}, h.ListPixels)

	huma.Register(api, huma.Operation{
		OperationID: "get-pixel",
		Method:      http.MethodGet,
		Path:        "/v1/pixels/{x}/{y}",
		Summary:     "Get the pixel at a cell",
		Tags:        []string{"pixels"},
	}, h.GetPixel)

	huma.Register(api, huma.Operation{
		OperationID: "get-canvas",
		Method:      http.MethodGet,
		Path:        "/v1/canvas",
		Summary:     "Canvas dimensions and cooldown",
		Tags:        []string{"pixels"},
	}, h.GetCanvas)
}

func (h *PixelHandler) PlacePixel(ctx context.Context, input *PlacePixelInput) (*PlacePixelOutput, error) {
	req := admission.Request{
		X:        intField(input.Body.X),
		Y:        intField(input.Body.Y),
		Color:    stringField(input.Body.Color),
		Link:     input.Body.Link,
		UserID:   stringField(input.Body.UserID),
		UserName: input.Body.UserName,
	}

	res, err := h.gate.Place(ctx, req)
	if err != nil {
		metrics.RecordPlacement(placementOutcome(err))
		return nil, placementError(err, req, h.logger)
	}
	metrics.RecordPlacement(metrics.OutcomeSuccess)

	if res.CooldownWriteErr != nil {
		metrics.RecordCooldownWriteFailure()
		h.logger.Warn("pixel committed but cooldown not recorded",
			"user_id", req.UserID,
			"x", res.Pixel.X,
			"y", res.Pixel.Y,
			"error", res.CooldownWriteErr,
		)
	}

	h.logger.Info("pixel placed",
		"id", res.Pixel.ID,
		"x", res.Pixel.X,
		"y", res.Pixel.Y,
		"user_id", res.Pixel.OwnerID,
		"request_id", RequestIDFrom(ctx),
	)

	return &PlacePixelOutput{Body: PlacementResponse{
		Pixel:       pixelToResponse(res.Pixel),
		CooldownEnd: res.CooldownEnd,
	}}, nil
}

func (h *PixelHandler) ListPixels(ctx context.Context, input *ListPixelsInput) (*ListPixelsOutput, error) {
	page, err := h.pixels.ListPixels(ctx, input.Cursor, input.Limit)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, &APIError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: "invalid cursor", Fields: []string{"cursor"}}
		}
		h.logger.Error("failed to list pixels", "error", err)
		return nil, &APIError{Status: http.StatusInternalServerError, Code: CodeStorageError, Message: "storage unavailable"}
	}

	return &ListPixelsOutput{Body: PixelPage{
		Pixels:     lo.Map(page.Pixels, func(p pixel.Pixel, _ int) PixelResponse { return pixelToResponse(p) }),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}}, nil
}

func (h *PixelHandler) GetPixel(ctx context.Context, input *GetPixelInput) (*GetPixelOutput, error) {
	cfg := h.gate.Config()
	pos := pixel.Position{X: input.X, Y: input.Y}
	if !pixel.InBounds(pos, cfg.GridWidth, cfg.GridHeight) {
		return nil, &APIError{
			Status:  http.StatusBadRequest,
			Code:    admission.ReasonOutOfBounds,
			Message: "coordinates outside the canvas",
			X:       &pos.X,
			Y:       &pos.Y,
		}
	}

	p, err := h.pixels.PixelAt(ctx, pos)
	if err != nil {
		if errors.Is(err, storage.ErrPixelNotFound) {
			return nil, &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "no pixel at this position", X: &pos.X, Y: &pos.Y}
		}
		h.logger.Error("failed to get pixel", "x", pos.X, "y", pos.Y, "error", err)
		return nil, &APIError{Status: http.StatusInternalServerError, Code: CodeStorageError, Message: "storage unavailable"}
	}

	return &GetPixelOutput{Body: pixelToResponse(*p)}, nil
}

func (h *PixelHandler) GetCanvas(ctx context.Context, _ *struct{}) (*GetCanvasOutput, error) {
	cfg := h.gate.Config()
	return &GetCanvasOutput{Body: CanvasResponse{
		Width:           cfg.GridWidth,
		Height:          cfg.GridHeight,
		CooldownSeconds: int(cfg.Cooldown / time.Second),
	}}, nil
}

// maxExactInt is the largest integer a JSON number decoded as float64 holds exactly.
const maxExactInt = 1 << 53

// intField returns v as an int when it is an integral JSON number, else nil.
func intField(v any) *int {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > maxExactInt {
		return nil
	}
	i := int(f)
	return &i
}

// stringField returns v when it is a JSON string, else "".
func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func placementOutcome(err error) string {
	var (
		ve *admission.ValidationError
		ce *admission.ConflictError
		cd *admission.CooldownError
	)
	switch {
	case errors.As(err, &ve):
		return metrics.OutcomeValidation
	case errors.As(err, &ce):
		return metrics.OutcomeConflict
	case errors.As(err, &cd):
		return metrics.OutcomeCooldown
	default:
		return metrics.OutcomeError
	}
}

func pixelToResponse(p pixel.Pixel) PixelResponse {
	return PixelResponse{
		ID:        p.ID,
		Seq:       p.Seq,
		X:         p.X,
		Y:         p.Y,
		Color:     p.Color,
		Link:      p.Link,
		OwnerID:   p.OwnerID,
		OwnerName: p.OwnerName,
		CreatedAt: p.CreatedAt,
	}
}
