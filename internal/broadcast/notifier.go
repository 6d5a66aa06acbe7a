package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
)

type sink struct {
	name string
	pub  Publisher
}

// Notifier fans committed pixels out to every attached sink.
// Each delivery runs in its own goroutine; errors are logged and never
// reach the placement that produced the event.
type Notifier struct {
	mu      sync.RWMutex
	sinks   []sink
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier. timeout bounds each sink delivery; zero means none.
func NewNotifier(timeout time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		timeout: timeout,
		logger:  logger,
	}
}

// Attach adds a named sink.
func (n *Notifier) Attach(name string, pub Publisher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, sink{name: name, pub: pub})
}

// Sinks returns the names of attached sinks in attach order.
func (n *Notifier) Sinks() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, len(n.sinks))
	for i, s := range n.sinks {
		names[i] = s.name
	}
	return names
}

// PixelCommitted dispatches a pixel.committed event and returns immediately.
func (n *Notifier) PixelCommitted(p pixel.Pixel) {
	ev := NewPixelEvent(p)

	n.mu.RLock()
	sinks := make([]sink, len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.RUnlock()

	for _, s := range sinks {
		n.wg.Add(1)
		go func(s sink) {
			defer n.wg.Done()
			ctx := context.Background()
			if n.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, n.timeout)
				defer cancel()
			}
			if err := s.pub.Publish(ctx, ev); err != nil {
				n.logger.Error("broadcast failed",
					"sink", s.name,
					"x", p.X,
					"y", p.Y,
					"error", err,
				)
			}
		}(s)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
