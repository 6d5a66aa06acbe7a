package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

func testPixel(x, y int) pixel.Pixel {
	return pixel.Pixel{
		ID:        uuid.New(),
		Seq:       1,
		X:         x,
		Y:         y,
		Color:     "#FF0000",
		OwnerID:   "u1",
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// rpcServer is an httptest JSON-RPC receiver that records every request.
type rpcServer struct {
	*httptest.Server
	calls atomic.Int32
	mu    sync.Mutex
	reqs  []JSONRPCRequest
}

func newRPCServer(t *testing.T) *rpcServer {
	t.Helper()
	s := &rpcServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()
		resp := JSONRPCResponse{JSONRPC: "2.0", Result: json.RawMessage(`"ok"`), ID: req.ID}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func newFailingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// writerFunc adapts a function to the io.Writer interface.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
