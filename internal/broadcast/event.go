package broadcast

import (
	"context"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

// EventPixelCommitted is the only event type emitted today.
const EventPixelCommitted = "pixel.committed"

// Event is the payload every sink receives after a placement commits.
type Event struct {
	Type       string      `json:"type"`
	Pixel      pixel.Pixel `json:"pixel"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewPixelEvent wraps a committed pixel.
func NewPixelEvent(p pixel.Pixel) Event {
	return Event{
		Type:       EventPixelCommitted,
		Pixel:      p,
		OccurredAt: p.CreatedAt,
	}
}

// Publisher delivers an event to one downstream sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
