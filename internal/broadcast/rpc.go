package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/circuitbreaker"
)

// RPCPublisher notifies every active subscriber via JSON-RPC. Each endpoint
// sits behind its own circuit breaker so one dead receiver cannot stall the rest.
type RPCPublisher struct {
	registry     *SubscriberRegistry
	client       *RPCClient
	maxFailures  int
	resetTimeout time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
}

// RPCOption configures an RPCPublisher.
type RPCOption func(*RPCPublisher)

// WithBreakerLogger logs every breaker transition.
func WithBreakerLogger(logger *slog.Logger) RPCOption {
	return func(p *RPCPublisher) { p.logger = logger }
}

// NewRPCPublisher creates an RPCPublisher. Breakers open after maxFailures
// consecutive failed deliveries and probe again after resetTimeout.
func NewRPCPublisher(registry *SubscriberRegistry, client *RPCClient, maxFailures int, resetTimeout time.Duration, opts ...RPCOption) *RPCPublisher {
	p := &RPCPublisher{
		registry:     registry,
		client:       client,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		breakers:     make(map[string]*circuitbreaker.Breaker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers ev to all active subscribers concurrently and joins their errors.
func (p *RPCPublisher) Publish(ctx context.Context, ev Event) error {
	subs := p.registry.Active()
	if len(subs) == 0 {
		return nil
	}

	params := paramsFromEvent(ev)
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *Subscriber) {
			defer wg.Done()
			err := p.breaker(s.Endpoint).Execute(func() error {
				resp, err := p.client.Call(ctx, s.Endpoint, MethodPixelCommitted, params)
				if err != nil {
					return err
				}
				if resp.Error != nil {
					return resp.Error
				}
				return nil
			})
			if err != nil {
				errs[i] = fmt.Errorf("subscriber %s: %w", s.Name, err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// BreakerState reports the breaker state for endpoint; Closed if none exists yet.
func (p *RPCPublisher) BreakerState(endpoint string) circuitbreaker.State {
	p.mu.Lock()
	b, ok := p.breakers[endpoint]
	p.mu.Unlock()
	if !ok {
		return circuitbreaker.Closed
	}
	return b.GetState()
}

func (p *RPCPublisher) breaker(endpoint string) *circuitbreaker.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[endpoint]
	if !ok {
		var opts []circuitbreaker.Option
		if p.logger != nil {
			logger := p.logger
			opts = append(opts, circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
				logger.Warn("subscriber breaker state changed", "endpoint", endpoint, "from", from, "to", to)
			}))
		}
		b = circuitbreaker.New(p.maxFailures, p.resetTimeout, opts...)
		p.breakers[endpoint] = b
	}
	return b
}
