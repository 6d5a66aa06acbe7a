package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-pixelplace/internal/admission"
)

// Error codes returned in APIError.Code.
const (
	CodeBadRequest     = "bad_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodePositionTaken  = "position_taken"
	CodeCooldownActive = "cooldown_active"
	CodeStorageError   = "storage_error"
	CodeInternal       = "internal_error"
)

// APIError is the JSON body of every non-2xx response. Callers branch on
// Code and the typed fields, never on Message.
type APIError struct {
	Status            int        `json:"-"`
	Code              string     `json:"code" doc:"Machine-readable error code"`
	Message           string     `json:"message" doc:"Human-readable description"`
	Fields            []string   `json:"fields,omitempty" doc:"Offending request fields"`
	X                 *int       `json:"x,omitempty"`
	Y                 *int       `json:"y,omitempty"`
	RetryAfterSeconds *int       `json:"retry_after_seconds,omitempty"`
	RemainingMinutes  *int       `json:"remaining_minutes,omitempty"`
	CooldownEnd       *time.Time `json:"cooldown_end,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.Status
}

func init() {
	// Route huma's own errors (bad JSON, type mismatches, 404s) through the
	// same body shape as domain errors.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		e := &APIError{Status: status, Code: codeForStatus(status), Message: msg}
		for _, err := range errs {
			var d *huma.ErrorDetail
			if errors.As(err, &d) && d.Location != "" {
				e.Fields = append(e.Fields, fieldName(d.Location))
			}
		}
		return e
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status >= 500:
		return CodeInternal
	default:
		return CodeBadRequest
	}
}

// fieldName turns a huma location such as "body.x" or "query.user_id" into "x".
func fieldName(location string) string {
	if i := strings.IndexByte(location, '.'); i >= 0 {
		return location[i+1:]
	}
	return location
}

// placementError maps an admission error to its HTTP response.
func placementError(err error, req admission.Request, logger *slog.Logger) error {
	var (
		ve *admission.ValidationError
		ce *admission.ConflictError
		cd *admission.CooldownError
		se *admission.StorageError
	)
	switch {
	case errors.As(err, &ve):
		apiErr := &APIError{
			Status:  http.StatusBadRequest,
			Code:    ve.Reason,
			Message: validationMessage(ve),
			Fields:  ve.Fields,
		}
		if ve.Reason == admission.ReasonOutOfBounds {
			apiErr.X, apiErr.Y = req.X, req.Y
		}
		return apiErr

	case errors.As(err, &ce):
		x, y := ce.Position.X, ce.Position.Y
		return &APIError{
			Status:  http.StatusConflict,
			Code:    CodePositionTaken,
			Message: "this position already holds a pixel",
			X:       &x,
			Y:       &y,
		}

	case errors.As(err, &cd):
		return cooldownError(cd)

	case errors.As(err, &se):
		logger.Error("placement storage failure", "op", se.Op, "error", se.Err)
		return &APIError{Status: http.StatusInternalServerError, Code: CodeStorageError, Message: "storage unavailable"}

	default:
		logger.Error("placement failed", "error", err)
		return &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
	}
}

// cooldownError builds the 429 body plus a Retry-After header in whole seconds.
func cooldownError(cd *admission.CooldownError) error {
	secs := int(math.Ceil(cd.RetryAfter.Seconds()))
	mins := int(math.Ceil(cd.RetryAfter.Minutes()))
	end := cd.CooldownEndsAt
	apiErr := &APIError{
		Status:            http.StatusTooManyRequests,
		Code:              CodeCooldownActive,
		Message:           "please wait " + strconv.Itoa(mins) + " minute(s) before placing another pixel",
		RetryAfterSeconds: &secs,
		RemainingMinutes:  &mins,
		CooldownEnd:       &end,
	}
	return huma.ErrorWithHeaders(apiErr, http.Header{
		"Retry-After": []string{strconv.Itoa(secs)},
	})
}

func validationMessage(ve *admission.ValidationError) string {
	switch ve.Reason {
	case admission.ReasonMissingFields:
		return "missing required fields: " + strings.Join(ve.Fields, ", ")
	case admission.ReasonOutOfBounds:
		return "coordinates outside the canvas"
	case admission.ReasonBadColor:
		return "color must be a #RRGGBB hex string"
	case admission.ReasonBadLink:
		return "link must be an absolute URL"
	default:
		return ve.Error()
	}
}

// writeJSON is used by the plain net/http handlers (health, panics).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}
