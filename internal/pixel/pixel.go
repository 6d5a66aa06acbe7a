package pixel

import (
	"time"

	"github.com/google/uuid"
)

// Position addresses a single cell on the grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pixel is an immutable placement record. At most one exists per Position.
type Pixel struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Color     string    `json:"color"`
	Link      *string   `json:"link"`
	OwnerID   string    `json:"owner_id"`
	OwnerName *string   `json:"owner_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Position returns the grid cell the pixel occupies.
func (p *Pixel) Position() Position {
	return Position{X: p.X, Y: p.Y}
}

// NewPixel is what the admission gate hands to storage for insertion.
// Storage assigns ID, Seq and CreatedAt.
type NewPixel struct {
	Position  Position
	Color     string
	Link      *string
	OwnerID   string
	OwnerName *string
}

// CooldownRecord tracks the most recent successful placement of a user.
type CooldownRecord struct {
	UserID        string    `json:"user_id"`
	LastPlacement time.Time `json:"last_placement"`
}
