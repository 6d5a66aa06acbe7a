package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

var (
	// ErrPixelNotFound is returned when no pixel occupies the requested cell.
	ErrPixelNotFound = errors.New("pixel not found")

	// ErrCooldownNotFound is returned when a user has never placed a pixel.
	ErrCooldownNotFound = errors.New("cooldown record not found")

	// ErrPositionTaken is returned by InsertPixel when the cell is already occupied,
	// including when a concurrent writer won the race for it.
	ErrPositionTaken = errors.New("position already taken")

	// ErrInvalidCursor is returned by ListPixels for a malformed page cursor.
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	DefaultPageLimit = 1000
	MaxPageLimit     = 5000
)

// PixelStore persists the append-only canvas.
type PixelStore interface {
	// InsertPixel atomically inserts a pixel unless its cell is occupied.
	// Returns ErrPositionTaken instead of overwriting.
	InsertPixel(ctx context.Context, p pixel.NewPixel) (*pixel.Pixel, error)

	// PixelAt returns the pixel at pos or ErrPixelNotFound.
	PixelAt(ctx context.Context, pos pixel.Position) (*pixel.Pixel, error)

	// ListPixels returns pixels in insertion order after the given cursor.
	ListPixels(ctx context.Context, cursor string, limit int) (*Page, error)
}

// CooldownStore persists one CooldownRecord per user.
type CooldownStore interface {
	// GetCooldown returns the user's record or ErrCooldownNotFound.
	GetCooldown(ctx context.Context, userID string) (*pixel.CooldownRecord, error)

	// UpsertCooldown creates or overwrites the user's record.
	UpsertCooldown(ctx context.Context, userID string, at time.Time) error
}

// Store is a complete storage backend.
type Store interface {
	PixelStore
	CooldownStore
	Ping(ctx context.Context) error
	Close()
}

// Page is a slice of the canvas plus the cursor to continue from.
type Page struct {
	Pixels     []pixel.Pixel
	NextCursor string
	HasMore    bool
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

func afterSeq(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	c, err := DecodeCursor(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return c.Seq, nil
}

// buildPage fills NextCursor when the page is full.
func buildPage(pixels []pixel.Pixel, limit int) (*Page, error) {
	page := &Page{Pixels: pixels}
	if len(pixels) == limit && limit > 0 {
		next := Cursor{Seq: pixels[len(pixels)-1].Seq}
		encoded, err := next.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode next cursor: %w", err)
		}
		page.NextCursor = encoded
		page.HasMore = true
	}
	return page, nil
}
