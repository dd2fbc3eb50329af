package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LimiterConfig holds per-target rate limiter settings.
type LimiterConfig struct {
	// MinTime is the minimum spacing between two dispatches. Zero disables spacing.
	MinTime time.Duration
	// MaxConcurrent caps in-flight calls. Zero means unlimited.
	MaxConcurrent int
	// Reservoir is both the initial and the maximum token count. Zero disables the reservoir.
	Reservoir int
	// ReservoirRefreshAmount tokens are added every ReservoirRefreshInterval.
	ReservoirRefreshAmount   int
	ReservoirRefreshInterval time.Duration
}

// DefaultLimiterConfig returns the limiter settings applied to hosts without an override.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MinTime:                  100 * time.Millisecond,
		MaxConcurrent:            5,
		Reservoir:                60,
		ReservoirRefreshAmount:   60,
		ReservoirRefreshInterval: time.Minute,
	}
}

// RateLimitExceededError represents a local rate limit rejection with retry information.
type RateLimitExceededError struct {
	Target     string
	LimitType  string // "Concurrency", "MinTime" or "Reservoir"
	Current    int
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s %s current=%d limit=%d retry_after=%s",
		e.Target, e.LimitType, e.Current, e.Limit, e.RetryAfter.Round(time.Millisecond))
}

// IsRateLimitExceeded checks if err is a local rate limiter rejection.
func IsRateLimitExceeded(err error) bool {
	var rlErr *RateLimitExceededError
	return errors.As(err, &rlErr)
}

// RateLimiter admits calls for one target. Calls that cannot be admitted are
// rejected immediately rather than queued.
type RateLimiter struct {
	mu sync.Mutex

	target string
	config LimiterConfig
	now    func() time.Time

	inFlight     int
	tokens       int
	lastRefill   time.Time
	lastDispatch time.Time
	admitted     int64
	rejected     int64
}

// NewRateLimiter creates a limiter for target with a full reservoir.
func NewRateLimiter(target string, config LimiterConfig) *RateLimiter {
	if config.ReservoirRefreshAmount < 0 {
		config.ReservoirRefreshAmount = 0
	}
	return &RateLimiter{
		target:     target,
		config:     config,
		now:        time.Now,
		tokens:     config.Reservoir,
		lastRefill: time.Now(),
	}
}

// Target returns the key this limiter guards.
func (l *RateLimiter) Target() string {
	return l.target
}

// Execute runs fn if the limiter admits it, holding a concurrency slot for
// the duration of the call. A rejection returns *RateLimitExceededError and
// fn is not called.
func (l *RateLimiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.acquire(); err != nil {
		return err
	}
	defer l.release()

	return fn(ctx)
}

func (l *RateLimiter) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refill(now)

	if l.config.MaxConcurrent > 0 && l.inFlight >= l.config.MaxConcurrent {
		l.rejected++
		return &RateLimitExceededError{
			Target:     l.target,
			LimitType:  "Concurrency",
			Current:    l.inFlight,
			Limit:      l.config.MaxConcurrent,
			RetryAfter: l.config.MinTime,
		}
	}

	if l.config.MinTime > 0 && !l.lastDispatch.IsZero() {
		if elapsed := now.Sub(l.lastDispatch); elapsed < l.config.MinTime {
			l.rejected++
			return &RateLimitExceededError{
				Target:     l.target,
				LimitType:  "MinTime",
				Current:    int(elapsed.Milliseconds()),
				Limit:      int(l.config.MinTime.Milliseconds()),
				RetryAfter: l.config.MinTime - elapsed,
			}
		}
	}

	if l.config.Reservoir > 0 {
		if l.tokens <= 0 {
			l.rejected++
			return &RateLimitExceededError{
				Target:     l.target,
				LimitType:  "Reservoir",
				Current:    0,
				Limit:      l.config.Reservoir,
				RetryAfter: l.untilRefill(now),
			}
		}
		l.tokens--
	}

	l.inFlight++
	l.lastDispatch = now
	l.admitted++

	return nil
}

func (l *RateLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight > 0 {
		l.inFlight--
	}
}

// refill adds ReservoirRefreshAmount for every whole interval elapsed since
// the last refill, capped at Reservoir.
func (l *RateLimiter) refill(now time.Time) {
	if l.config.Reservoir <= 0 || l.config.ReservoirRefreshInterval <= 0 || l.config.ReservoirRefreshAmount == 0 {
		return
	}

	intervals := int(now.Sub(l.lastRefill) / l.config.ReservoirRefreshInterval)
	if intervals <= 0 {
		return
	}

	l.tokens += intervals * l.config.ReservoirRefreshAmount
	if l.tokens > l.config.Reservoir {
		l.tokens = l.config.Reservoir
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(intervals) * l.config.ReservoirRefreshInterval)
}

func (l *RateLimiter) untilRefill(now time.Time) time.Duration {
	if l.config.ReservoirRefreshInterval <= 0 || l.config.ReservoirRefreshAmount == 0 {
		return 0
	}
	wait := l.lastRefill.Add(l.config.ReservoirRefreshInterval).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Status returns a snapshot of the limiter state.
func (l *RateLimiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(l.now())

	return LimiterStatus{
		Target:        l.target,
		InFlight:      l.inFlight,
		MaxConcurrent: l.config.MaxConcurrent,
		Tokens:        l.tokens,
		Reservoir:     l.config.Reservoir,
		MinTime:       l.config.MinTime,
		LastDispatch:  l.lastDispatch,
		Admitted:      l.admitted,
		Rejected:      l.rejected,
	}
}

// LimiterStatus represents rate limiter statistics.
type LimiterStatus struct {
	Target        string        `json:"target"`
	InFlight      int           `json:"in_flight"`
	MaxConcurrent int           `json:"max_concurrent"`
	Tokens        int           `json:"tokens"`
	Reservoir     int           `json:"reservoir"`
	MinTime       time.Duration `json:"min_time"`
	LastDispatch  time.Time     `json:"last_dispatch"`
	Admitted      int64         `json:"admitted"`
	Rejected      int64         `json:"rejected"`
}
