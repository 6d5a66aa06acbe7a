package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubscriberStatus is the activation state of a subscriber.
type SubscriberStatus string

const (
	SubscriberStatusActive   SubscriberStatus = "active"
	SubscriberStatusInactive SubscriberStatus = "inactive"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrDuplicateName      = errors.New("subscriber name already registered")
)

// Subscriber is an external JSON-RPC service notified of every committed pixel.
type Subscriber struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Endpoint  string           `json:"endpoint"`
	Status    SubscriberStatus `json:"status"`
	Static    bool             `json:"static"`
	CreatedAt time.Time        `json:"created_at"`
}

// SubscriberStore persists subscribers registered at runtime.
type SubscriberStore interface {
	SaveSubscriber(ctx context.Context, s *Subscriber) error
	DeleteSubscriber(ctx context.Context, id uuid.UUID) error
	ListSubscribers(ctx context.Context) ([]*Subscriber, error)
}

// SubscriberRegistry is a thread-safe in-memory view of subscribers, optionally
// backed by a SubscriberStore. Static subscribers come from the config file and
// are never persisted.
type SubscriberRegistry struct {
	mu    sync.RWMutex
	subs  map[uuid.UUID]*Subscriber
	store SubscriberStore
}

// NewSubscriberRegistry creates an empty registry. store may be nil.
func NewSubscriberRegistry(store SubscriberStore) *SubscriberRegistry {
	return &SubscriberRegistry{
		subs:  make(map[uuid.UUID]*Subscriber),
		store: store,
	}
}

// Load populates the registry from the backing store.
func (r *SubscriberRegistry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	subs, err := r.store.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		r.subs[s.ID] = s
	}
	return nil
}

// Register assigns an ID and creation time, persists non-static subscribers
// and adds s to the registry.
func (r *SubscriberRegistry) Register(ctx context.Context, s *Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.subs {
		if existing.Name == s.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
		}
	}

	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	if s.Status == "" {
		s.Status = SubscriberStatusActive
	}

	if r.store != nil && !s.Static {
		if err := r.store.SaveSubscriber(ctx, s); err != nil {
			return err
		}
	}
	r.subs[s.ID] = s
	return nil
}

// Get returns a subscriber by ID.
func (r *SubscriberRegistry) Get(id uuid.UUID) (*Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberNotFound, id)
	}
	return s, nil
}

// List returns all subscribers ordered by creation time.
func (r *SubscriberRegistry) List() []*Subscriber {
	r.mu.RLock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete removes a subscriber by ID.
func (r *SubscriberRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriberNotFound, id)
	}
	if r.store != nil && !s.Static {
		if err := r.store.DeleteSubscriber(ctx, id); err != nil {
			return err
		}
	}
	delete(r.subs, id)
	return nil
}

// Active returns all active subscribers.
func (r *SubscriberRegistry) Active() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscriber
	for _, s := range r.subs {
		if s.Status == SubscriberStatusActive {
			out = append(out, s)
		}
	}
	return out
}
