package admission

import (
	"fmt"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

// Validation reasons.
const (
	ReasonMissingFields = "missing_fields"
	ReasonOutOfBounds   = "out_of_bounds"
	ReasonBadColor      = "bad_color"
	ReasonBadLink       = "bad_link"
)

// ValidationError rejects a malformed or out-of-range request. Never retryable.
type ValidationError struct {
	Reason string
	// Fields names the offending request fields, e.g. ["x"] for a bad column.
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %v", e.Reason, e.Fields)
}

// ConflictError reports that the requested cell already holds a pixel.
type ConflictError struct {
	Position pixel.Position
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("position_taken: (%d, %d)", e.Position.X, e.Position.Y)
}

// CooldownError reports that the user must wait before placing again.
type CooldownError struct {
	RetryAfter     time.Duration
	CooldownEndsAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active until %s", e.CooldownEndsAt.Format(time.RFC3339))
}

// StorageError wraps a collaborator failure. The core never retries it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
