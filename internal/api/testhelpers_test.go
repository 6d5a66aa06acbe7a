package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/admission"
	"github.com/ryanbastic/go-pixelplace/internal/broadcast"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type testEnv struct {
	clock   *fakeClock
	store   *storage.MemoryStore
	hub     *broadcast.Hub
	subs    *broadcast.SubscriberRegistry
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*ServerOptions)) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStoreWithClock(clock.Now)
	cfg := admission.DefaultConfig()
	tracker := admission.NewTracker(store, cfg, admission.WithClock(clock.Now))
	hub := broadcast.NewHub(8)
	publisher := broadcast.NewNotifier(time.Second, testLogger())
	publisher.Attach("hub", hub)

	env := &testEnv{
		clock: clock,
		store: store,
		hub:   hub,
		subs:  broadcast.NewSubscriberRegistry(nil),
	}
	opts := ServerOptions{
		Gate:        admission.NewGate(store, tracker, cfg, admission.WithPublisher(publisher)),
		Tracker:     tracker,
		Pixels:      store,
		Hub:         hub,
		Subscribers: env.subs,
	}
	for _, m := range mutate {
		m(&opts)
	}
	env.handler = NewServer(testLogger(), opts)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) place(t *testing.T, x, y int, color, user string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/v1/pixels", map[string]any{
		"x": x, "y": y, "color": color, "user_id": user,
	})
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v\nbody: %s", err, w.Body.String())
	}
	return e
}
