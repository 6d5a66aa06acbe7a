package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/ryanbastic/go-pixelplace/internal/broadcast"
	"github.com/ryanbastic/go-pixelplace/internal/config"
	"github.com/samber/lo"
)

// --- Huma Input/Output types ---

type RegisterSubscriberBody struct {
	Name     string `json:"name" doc:"Subscriber name" required:"true" minLength:"1"`
	Endpoint string `json:"endpoint" doc:"JSON-RPC endpoint URL" required:"true" minLength:"1"`
}

type RegisterSubscriberInput struct {
	Body RegisterSubscriberBody
}

type SubscriberResponse struct {
	ID        uuid.UUID `json:"id" doc:"Subscriber UUID"`
	Name      string    `json:"name" doc:"Subscriber name"`
	Endpoint  string    `json:"endpoint" doc:"JSON-RPC endpoint URL"`
	Status    string    `json:"status" doc:"Subscriber status" example:"active"`
	Static    bool      `json:"static" doc:"Loaded from the subscribers file"`
	CreatedAt time.Time `json:"created_at" doc:"Creation timestamp"`
}

type RegisterSubscriberOutput struct {
	Body SubscriberResponse
}

type ListSubscribersOutput struct {
	Body []SubscriberResponse
}

type SubscriberIDInput struct {
	SubscriberID string `path:"subscriber_id" doc:"Subscriber UUID" format:"uuid"`
}

type GetSubscriberOutput struct {
	Body SubscriberResponse
}

// --- Handler ---

type SubscriberHandler struct {
	registry *broadcast.SubscriberRegistry
	logger   *slog.Logger
}

func NewSubscriberHandler(registry *broadcast.SubscriberRegistry, logger *slog.Logger) *SubscriberHandler {
	return &SubscriberHandler{registry: registry, logger: logger}
}

func registerSubscriberRoutes(api huma.API, h *SubscriberHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-subscriber",
		Method:        http.MethodPost,
		Path:          "/v1/subscribers",
		Summary:       "Register a pixel subscriber",
		Tags:          []string{"subscribers"},
		DefaultStatus: http.StatusCreated,
	}, h.RegisterSubscriber)

	huma.Register(api, huma.Operation{
		OperationID: "list-subscribers",
		Method:      http.MethodGet,
		Path:        "/v1/subscribers",
		Summary:     "List all subscribers",
		Tags:        []string{"subscribers"},
	}, h.ListSubscribers)

	huma.Register(api, huma.Operation{
		OperationID: "get-subscriber",
		Method:      http.MethodGet,
		Path:        "/v1/subscribers/{subscriber_id}",
		Summary:     "Get a subscriber by ID",
		Tags:        []string{"subscribers"},
	}, h.GetSubscriber)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-subscriber",
		Method:        http.MethodDelete,
		Path:          "/v1/subscribers/{subscriber_id}",
		Summary:       "Delete a subscriber",
		Tags:          []string{"subscribers"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteSubscriber)
}

func (h *SubscriberHandler) RegisterSubscriber(ctx context.Context, input *RegisterSubscriberInput) (*RegisterSubscriberOutput, error) {
	if err := config.ValidateEndpoint(input.Body.Endpoint); err != nil {
		return nil, &APIError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: err.Error(), Fields: []string{"endpoint"}}
	}

	s := &broadcast.Subscriber{
		Name:     input.Body.Name,
		Endpoint: input.Body.Endpoint,
	}
	if err := h.registry.Register(ctx, s); err != nil {
		if errors.Is(err, broadcast.ErrDuplicateName) {
			return nil, &APIError{Status: http.StatusConflict, Code: CodeConflict, Message: err.Error(), Fields: []string{"name"}}
		}
		h.logger.Error("failed to register subscriber", "name", s.Name, "error", err)
		return nil, &APIError{Status: http.StatusInternalServerError, Code: CodeStorageError, Message: "storage unavailable"}
	}

	h.logger.Info("subscriber registered", "id", s.ID, "name", s.Name, "endpoint", s.Endpoint)

	return &RegisterSubscriberOutput{Body: subscriberToResponse(s)}, nil
}

func (h *SubscriberHandler) ListSubscribers(ctx context.Context, _ *struct{}) (*ListSubscribersOutput, error) {
	return &ListSubscribersOutput{Body: lo.Map(h.registry.List(), func(s *broadcast.Subscriber, _ int) SubscriberResponse {
		return subscriberToResponse(s)
	})}, nil
}

func (h *SubscriberHandler) GetSubscriber(ctx context.Context, input *SubscriberIDInput) (*GetSubscriberOutput, error) {
	id, err := uuid.Parse(input.SubscriberID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid subscriber_id")
	}

	s, err := h.registry.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("subscriber not found")
	}

	return &GetSubscriberOutput{Body: subscriberToResponse(s)}, nil
}

func (h *SubscriberHandler) DeleteSubscriber(ctx context.Context, input *SubscriberIDInput) (*struct{}, error) {
	id, err := uuid.Parse(input.SubscriberID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid subscriber_id")
	}

	s, err := h.registry.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("subscriber not found")
	}
	if s.Static {
		return nil, huma.Error409Conflict("static subscribers are managed by the subscribers file")
	}

	if err := h.registry.Delete(ctx, id); err != nil {
		if errors.Is(err, broadcast.ErrSubscriberNotFound) {
			return nil, huma.Error404NotFound("subscriber not found")
		}
		h.logger.Error("failed to delete subscriber", "id", id, "error", err)
		return nil, &APIError{Status: http.StatusInternalServerError, Code: CodeStorageError, Message: "storage unavailable"}
	}

	h.logger.Info("subscriber deleted", "id", id)
	return nil, nil
}

func subscriberToResponse(s *broadcast.Subscriber) SubscriberResponse {
	return SubscriberResponse{
		ID:        s.ID,
		Name:      s.Name,
		Endpoint:  s.Endpoint,
		Status:    string(s.Status),
		Static:    s.Static,
		CreatedAt: s.CreatedAt,
	}
}
