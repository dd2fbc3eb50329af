package fetch

import (
	"context"

	"Wayfarer/pkg/resilience"
)

// Call is one guarded unit of outbound work.
type Call func(ctx context.Context) error

// Middleware wraps a Call with an additional gate.
type Middleware func(next Call) Call

// Chain composes middlewares so that the first one is the outermost.
func Chain(m ...Middleware) Middleware {
	return func(next Call) Call {
		for i := len(m) - 1; i >= 0; i-- {
			next = m[i](next)
		}
		return next
	}
}

// WithRateLimiter admits the call through l.
func WithRateLimiter(l *resilience.RateLimiter) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			return l.Execute(ctx, next)
		}
	}
}

// WithCircuitBreaker runs the call under b.
func WithCircuitBreaker(b *resilience.CircuitBreaker) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			return b.Execute(ctx, next)
		}
	}
}
