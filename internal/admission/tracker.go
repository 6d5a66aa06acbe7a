package admission

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

// Eligibility answers whether a user may place now.
// RetryAfter and CooldownEndsAt are set only when Eligible is false.
type Eligibility struct {
	Eligible       bool
	RetryAfter     time.Duration
	CooldownEndsAt *time.Time
}

// RemainingMinutes rounds RetryAfter up to whole minutes for display.
func (e Eligibility) RemainingMinutes() int {
	if e.Eligible || e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// Tracker enforces the per-user cooldown over a CooldownStore.
type Tracker struct {
	store    storage.CooldownStore
	cooldown time.Duration
	now      func() time.Time
}

// NewTracker creates a Tracker using cfg.Cooldown as the cooldown duration.
func NewTracker(store storage.CooldownStore, cfg Config, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:    store,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Cooldown returns the configured cooldown duration.
func (t *Tracker) Cooldown() time.Duration {
	return t.cooldown
}

// CheckEligibility reads the user's last placement. It never writes.
func (t *Tracker) CheckEligibility(ctx context.Context, userID string) (Eligibility, error) {
	rec, err := t.store.GetCooldown(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrCooldownNotFound) {
			return Eligibility{Eligible: true}, nil
		}
		return Eligibility{}, &StorageError{Op: "get cooldown", Err: err}
	}

	elapsed := t.now().Sub(rec.LastPlacement)
	if elapsed >= t.cooldown {
		return Eligibility{Eligible: true}, nil
	}

	ends := rec.LastPlacement.Add(t.cooldown)
	return Eligibility{
		Eligible:       false,
		RetryAfter:     t.cooldown - elapsed,
		CooldownEndsAt: &ends,
	}, nil
}

// RecordPlacement unconditionally moves the user's cooldown window to start at at.
func (t *Tracker) RecordPlacement(ctx context.Context, userID string, at time.Time) error {
	if err := t.store.UpsertCooldown(ctx, userID, at); err != nil {
		return &StorageError{Op: "upsert cooldown", Err: err}
	}
	return nil
}
