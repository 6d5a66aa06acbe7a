package admission

import (
	"context"
	"sync"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// spyStore wraps a MemoryStore, counting writes and injecting failures.
type spyStore struct {
	*storage.MemoryStore

	mu             sync.Mutex
	inserts        int
	upserts        int
	pixelAtErr     error
	insertErr      error
	getCooldownErr error
	upsertErr      error
	// hidePixels makes PixelAt miss, simulating a racing writer that
	// commits between the occupancy check and the insert.
	hidePixels bool
	// afterInsert runs once a pixel has been committed.
	afterInsert func()
}

func newSpyStore(clock *fakeClock) *spyStore {
	return &spyStore{MemoryStore: storage.NewMemoryStoreWithClock(clock.Now)}
}

func (s *spyStore) PixelAt(ctx context.Context, pos pixel.Position) (*pixel.Pixel, error) {
	if s.pixelAtErr != nil {
		return nil, s.pixelAtErr
	}
	if s.hidePixels {
		return nil, storage.ErrPixelNotFound
	}
	return s.MemoryStore.PixelAt(ctx, pos)
}

func (s *spyStore) InsertPixel(ctx context.Context, np pixel.NewPixel) (*pixel.Pixel, error) {
	s.mu.Lock()
	s.inserts++
	s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	p, err := s.MemoryStore.InsertPixel(ctx, np)
	if err == nil && s.afterInsert != nil {
		s.afterInsert()
	}
	return p, err
}

func (s *spyStore) GetCooldown(ctx context.Context, userID string) (*pixel.CooldownRecord, error) {
	if s.getCooldownErr != nil {
		return nil, s.getCooldownErr
	}
	return s.MemoryStore.GetCooldown(ctx, userID)
}

func (s *spyStore) UpsertCooldown(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	s.upserts++
	s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.MemoryStore.UpsertCooldown(ctx, userID, at)
}

func (s *spyStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts + s.upserts
}

type recordingPublisher struct {
	mu     sync.Mutex
	pixels []pixel.Pixel
}

func (r *recordingPublisher) PixelCommitted(p pixel.Pixel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pixels = append(r.pixels, p)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pixels)
}

func intPtr(v int) *int { return &v }

func placeReq(x, y int, color, user string) Request {
	return Request{X: intPtr(x), Y: intPtr(y), Color: color, UserID: user}
}
