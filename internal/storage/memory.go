package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

// MemoryStore is an in-process Store. Spatial uniqueness holds under its mutex.
type MemoryStore struct {
	mu        sync.RWMutex
	byPos     map[pixel.Position]*pixel.Pixel
	ordered   []*pixel.Pixel
	cooldowns map[string]time.Time
	nextSeq   int64
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore stamping pixels with time.Now.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty MemoryStore using now for created_at.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		byPos:     make(map[pixel.Position]*pixel.Pixel),
		cooldowns: make(map[string]time.Time),
		now:       now,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) InsertPixel(ctx context.Context, np pixel.NewPixel) (*pixel.Pixel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byPos[np.Position]; ok {
		return nil, ErrPositionTaken
	}
	m.nextSeq++
	p := &pixel.Pixel{
		ID:        uuid.New(),
		Seq:       m.nextSeq,
		X:         np.Position.X,
		Y:         np.Position.Y,
		Color:     np.Color,
		Link:      np.Link,
		OwnerID:   np.OwnerID,
		OwnerName: np.OwnerName,
		CreatedAt: m.now(),
	}
	m.byPos[np.Position] = p
	m.ordered = append(m.ordered, p)
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PixelAt(ctx context.Context, pos pixel.Position) (*pixel.Pixel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byPos[pos]
	if !ok {
		return nil, ErrPixelNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPixels(ctx context.Context, cursor string, limit int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	after, err := afterSeq(cursor)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var pixels []pixel.Pixel
	for _, p := range m.ordered {
		if p.Seq <= after {
			continue
		}
		pixels = append(pixels, *p)
		if len(pixels) == limit {
			break
		}
	}
	return buildPage(pixels, limit)
}

func (m *MemoryStore) GetCooldown(ctx context.Context, userID string) (*pixel.CooldownRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	at, ok := m.cooldowns[userID]
	if !ok {
		return nil, ErrCooldownNotFound
	}
	return &pixel.CooldownRecord{UserID: userID, LastPlacement: at}, nil
}

func (m *MemoryStore) UpsertCooldown(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[userID] = at
	return nil
}
