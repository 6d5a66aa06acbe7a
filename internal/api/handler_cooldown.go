package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-pixelplace/internal/admission"
	"github.com/ryanbastic/go-pixelplace/internal/metrics"
)

type GetCooldownInput struct {
	UserID string `query:"user_id" doc:"User to check" required:"false"`
}

// CooldownResponse leaves cooldown_end and the remaining fields null when
// the user can place now.
type CooldownResponse struct {
	CanPlace         bool       `json:"can_place"`
	CooldownEnd      *time.Time `json:"cooldown_end"`
	RemainingSeconds *int       `json:"remaining_seconds"`
	RemainingMinutes *int       `json:"remaining_minutes"`
}

type GetCooldownOutput struct {
	Body CooldownResponse
}

type CooldownHandler struct {
	tracker *admission.Tracker
	logger  *slog.Logger
}

func NewCooldownHandler(tracker *admission.Tracker, logger *slog.Logger) *CooldownHandler {
	return &CooldownHandler{tracker: tracker, logger: logger}
}

func registerCooldownRoutes(api huma.API, h *CooldownHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-cooldown",
		Method:      http.MethodGet,
		Path:        "/v1/cooldown",
		Summary:     "Check whether a user may place now",
		Tags:        []string{"cooldown"},
	}, h.GetCooldown)
}

// GetCooldown is a pure read; it never touches the cooldown record.
func (h *CooldownHandler) GetCooldown(ctx context.Context, input *GetCooldownInput) (*GetCooldownOutput, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, &APIError{
			Status:  http.StatusBadRequest,
			Code:    admission.ReasonMissingFields,
			Message: "missing required fields: user_id",
			Fields:  []string{"user_id"},
		}
	}

	elig, err := h.tracker.CheckEligibility(ctx, input.UserID)
	if err != nil {
		var se *admission.StorageError
		if errors.As(err, &se) {
			h.logger.Error("cooldown check storage failure", "op", se.Op, "user_id", input.UserID, "error", se.Err)
		} else {
			h.logger.Error("cooldown check failed", "user_id", input.UserID, "error", err)
		}
		return nil, &APIError{Status: http.StatusInternalServerError, Code: CodeStorageError, Message: "storage unavailable"}
	}
	metrics.RecordCooldownCheck(elig.Eligible)

	resp := CooldownResponse{CanPlace: elig.Eligible}
	if !elig.Eligible {
		resp.CooldownEnd = elig.CooldownEndsAt
		secs := int(math.Ceil(elig.RetryAfter.Seconds()))
		mins := elig.RemainingMinutes()
		resp.RemainingSeconds = &secs
		resp.RemainingMinutes = &mins
	}
	return &GetCooldownOutput{Body: resp}, nil
}
