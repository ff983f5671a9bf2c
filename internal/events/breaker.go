package events

import (
	"context"

	"github.com/jogardn/pharmacy-portal/internal/circuitbreaker"
)

// BreakerPublisher stops hammering an unavailable broker: once the breaker
// opens, publishes fail fast with circuitbreaker.ErrOpen.
type BreakerPublisher struct {
	next    Publisher
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerPublisher(next Publisher, breaker *circuitbreaker.CircuitBreaker) *BreakerPublisher {
	return &BreakerPublisher{next: next, breaker: breaker}
}

func (p *BreakerPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.next.PublishOrderEvent(ctx, event)
	})
}
