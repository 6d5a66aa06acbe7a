package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

// Request is an incoming placement. X and Y are pointers so an absent
// coordinate can be told apart from zero.
type Request struct {
	X        *int
	Y        *int
	Color    string
	Link     string
	UserID   string
	UserName string
}

// Result is a committed placement.
type Result struct {
	Pixel       pixel.Pixel
	CooldownEnd time.Time
	// CooldownWriteErr is set when the pixel committed but the cooldown
	// record could not be refreshed. The placement still stands.
	CooldownWriteErr error
}

// Publisher receives every committed pixel. Implementations must not block.
type Publisher interface {
	PixelCommitted(p pixel.Pixel)
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithPublisher attaches a commit notification sink.
func WithPublisher(p Publisher) GateOption {
	return func(g *Gate) { g.publisher = p }
}

// Gate decides whether a placement request becomes a durable pixel.
type Gate struct {
	pixels    storage.PixelStore
	tracker   *Tracker
	cfg       Config
	publisher Publisher
}

// NewGate creates a Gate. The gate shares the tracker's clock.
func NewGate(pixels storage.PixelStore, tracker *Tracker, cfg Config, opts ...GateOption) *Gate {
	g := &Gate{
		pixels:  pixels,
		tracker: tracker,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the canvas rules the gate enforces.
func (g *Gate) Config() Config {
	return g.cfg
}

// Place validates req and, if every check passes, commits the pixel and
// refreshes the user's cooldown. Checks run in a fixed order and the first
// failure is returned.
func (g *Gate) Place(ctx context.Context, req Request) (*Result, error) {
	np, err := g.validate(req)
	if err != nil {
		return nil, err
	}

	if _, err := g.pixels.PixelAt(ctx, np.Position); err == nil {
		return nil, &ConflictError{Position: np.Position}
	} else if !errors.Is(err, storage.ErrPixelNotFound) {
		return nil, &StorageError{Op: "get pixel", Err: err}
	}

	elig, err := g.tracker.CheckEligibility(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return nil, &CooldownError{RetryAfter: elig.RetryAfter, CooldownEndsAt: *elig.CooldownEndsAt}
	}

	p, err := g.pixels.InsertPixel(ctx, np)
	if err != nil {
		if errors.Is(err, storage.ErrPositionTaken) {
			return nil, &ConflictError{Position: np.Position}
		}
		return nil, &StorageError{Op: "insert pixel", Err: err}
	}

	now := g.tracker.now()
	res := &Result{
		Pixel:       *p,
		CooldownEnd: now.Add(g.tracker.Cooldown()),
	}
	// The pixel is durable now; the cooldown must follow it even if the
	// caller has gone away.
	if err := g.tracker.RecordPlacement(context.WithoutCancel(ctx), req.UserID, now); err != nil {
		res.CooldownWriteErr = err
	}

	if g.publisher != nil {
		g.publisher.PixelCommitted(*p)
	}
	return res, nil
}

// validate runs the structural, bounds, color and link checks in order.
func (g *Gate) validate(req Request) (pixel.NewPixel, error) {
	var missing []string
	if req.X == nil {
		missing = append(missing, "x")
	}
	if req.Y == nil {
		missing = append(missing, "y")
	}
	if req.Color == "" {
		missing = append(missing, "color")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if len(missing) > 0 {
		return pixel.NewPixel{}, &ValidationError{Reason: ReasonMissingFields, Fields: missing}
	}

	pos := pixel.Position{X: *req.X, Y: *req.Y}
	if !pixel.InBounds(pos, g.cfg.GridWidth, g.cfg.GridHeight) {
		var fields []string
		if pos.X < 0 || pos.X >= g.cfg.GridWidth {
			fields = append(fields, "x")
		}
		if pos.Y < 0 || pos.Y >= g.cfg.GridHeight {
			fields = append(fields, "y")
		}
		return pixel.NewPixel{}, &ValidationError{Reason: ReasonOutOfBounds, Fields: fields}
	}

	color, ok := pixel.NormalizeColor(req.Color)
	if !ok {
		return pixel.NewPixel{}, &ValidationError{Reason: ReasonBadColor, Fields: []string{"color"}}
	}

	np := pixel.NewPixel{
		Position: pos,
		Color:    color,
		OwnerID:  req.UserID,
	}
	if req.Link != "" {
		if !pixel.ValidLink(req.Link) {
			return pixel.NewPixel{}, &ValidationError{Reason: ReasonBadLink, Fields: []string{"link"}}
		}
		link := req.Link
		np.Link = &link
	}
	if req.UserName != "" {
		name := req.UserName
		np.OwnerName = &name
	}
	return np, nil
}
