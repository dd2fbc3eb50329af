// Package resilience provides the per-target circuit breaker and rate limiter
// that guard every outbound provider call, and the registry that owns them.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed - calls pass through and failures are counted.
	StateClosed State = iota
	// StateOpen - calls fail fast until the reset timeout elapses.
	StateOpen
	// StateHalfOpen - a limited number of trial calls test the provider.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "CLOSED":
		*s = StateClosed
	case "OPEN":
		*s = StateOpen
	case "HALF_OPEN":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown circuit breaker state %q", string(text))
	}
	return nil
}

// ErrBreakerTimeout is returned when a guarded call does not settle within the breaker timeout.
var ErrBreakerTimeout = errors.New("circuit breaker: call timed out")

// StateChangeFunc is notified after a breaker changes state.
type StateChangeFunc func(target string, from, to State)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within MonitoringPeriod that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes the circuit.
	SuccessThreshold int
	// ResetTimeout is how long the circuit stays open after the last failure.
	ResetTimeout time.Duration
	// MonitoringPeriod bounds the window in which failures accumulate. Zero disables the window.
	MonitoringPeriod time.Duration
	// Timeout bounds every guarded call. Zero disables the internal deadline.
	Timeout time.Duration
	// HalfOpenMaxCalls is the number of concurrent trial calls admitted while half-open.
	HalfOpenMaxCalls int
	// IsFailure decides whether an error counts toward FailureThreshold. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called outside the breaker lock after every transition.
	OnStateChange StateChangeFunc
}

// DefaultBreakerConfig returns default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		MonitoringPeriod: 60 * time.Second,
		Timeout:          10 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

type stateChange struct {
	from, to State
}

// CircuitBreaker is a failure-aware gate for a single target.
type CircuitBreaker struct {
	mu sync.Mutex

	target string
	config BreakerConfig
	now    func() time.Time

	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int
	windowStart      time.Time
	lastFailureTime  time.Time
	lastStateChange  time.Time

	totalCalls      int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
	totalTimeouts   int64

	pending []stateChange
}

// NewCircuitBreaker creates a breaker for target in the CLOSED state.
func NewCircuitBreaker(target string, config BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}

	return &CircuitBreaker{
		target:          target,
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Target returns the key this breaker guards.
func (b *CircuitBreaker) Target() string {
	return b.target
}

// Execute runs fn under breaker protection.
//
// It returns a *CircuitBreakerError without calling fn while the circuit is
// open, an error wrapping ErrBreakerTimeout when fn does not return within the
// configured timeout, and otherwise fn's own result.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		b.flush()
		return err
	}

	err := b.call(ctx, fn)
	b.afterCall(ctx, err)
	b.flush()

	return err
}

func (b *CircuitBreaker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.config.Timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w after %s", b.target, ErrBreakerTimeout, b.config.Timeout)
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// caller gave up, not the provider
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w after %s", b.target, ErrBreakerTimeout, b.config.Timeout)
	}
}

// beforeCall checks if the circuit breaker admits the call.
func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalCalls++

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := now.Sub(b.lastFailureTime)
		if elapsed >= b.config.ResetTimeout {
			b.transition(StateHalfOpen, now)
			b.successCount = 0
			b.halfOpenInFlight = 1
			return nil
		}
		b.totalRejections++
		return b.openError(b.config.ResetTimeout - elapsed)

	case StateHalfOpen:
		if b.halfOpenInFlight < b.config.HalfOpenMaxCalls {
			b.halfOpenInFlight++
			return nil
		}
		b.totalRejections++
		return b.openError(0)
	}

	return fmt.Errorf("unknown circuit breaker state: %d", b.state)
}

// afterCall records the result of an admitted call.
func (b *CircuitBreaker) afterCall(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHalfOpen := b.state == StateHalfOpen
	if wasHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	switch {
	case err == nil:
		b.onSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// cancelled by the caller, says nothing about provider health
	case errors.Is(err, ErrBreakerTimeout):
		b.totalTimeouts++
		b.onFailure()
	case b.config.IsFailure != nil && !b.config.IsFailure(err):
		b.onSuccess()
	default:
		b.onFailure()
	}
}

func (b *CircuitBreaker) onSuccess() {
	b.totalSuccesses++

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transition(StateClosed, b.now())
			b.resetCounters()
		}
	}
}

func (b *CircuitBreaker) onFailure() {
	now := b.now()
	b.totalFailures++

	switch b.state {
	case StateClosed:
		if b.config.MonitoringPeriod > 0 && !b.windowStart.IsZero() && now.Sub(b.windowStart) > b.config.MonitoringPeriod {
			b.failureCount = 0
		}
		if b.failureCount == 0 {
			b.windowStart = now
		}
		b.failureCount++
		b.lastFailureTime = now
		if b.failureCount >= b.config.FailureThreshold {
			b.transition(StateOpen, now)
		}

	case StateHalfOpen:
		// any failure while probing re-opens the circuit
		b.failureCount++
		b.lastFailureTime = now
		b.successCount = 0
		b.transition(StateOpen, now)

	case StateOpen:
		b.lastFailureTime = now
	}
}

func (b *CircuitBreaker) resetCounters() {
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
	b.windowStart = time.Time{}
}

func (b *CircuitBreaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = now
	b.pending = append(b.pending, stateChange{from: from, to: to})
}

// flush delivers queued state changes outside the lock.
func (b *CircuitBreaker) flush() {
	b.mu.Lock()
	changes := b.pending
	b.pending = nil
	b.mu.Unlock()

	if b.config.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		b.config.OnStateChange(b.target, c.from, c.to)
	}
}

func (b *CircuitBreaker) openError(retryAfter time.Duration) *CircuitBreakerError {
	return &CircuitBreakerError{
		Target:          b.target,
		State:           b.state,
		Failures:        b.failureCount,
		LastFailureTime: b.lastFailureTime,
		RetryAfter:      retryAfter,
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker to CLOSED with zeroed counters and returns the
// state it was in.
func (b *CircuitBreaker) Reset() State {
	b.mu.Lock()
	from := b.state
	b.transition(StateClosed, b.now())
	b.resetCounters()
	b.lastFailureTime = time.Time{}
	b.mu.Unlock()

	b.flush()
	return from
}

// Metrics returns a snapshot of the breaker counters.
func (b *CircuitBreaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerMetrics{
		Target:          b.target,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
		TotalCalls:      b.totalCalls,
		TotalSuccesses:  b.totalSuccesses,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		TotalTimeouts:   b.totalTimeouts,
	}
}

// BreakerMetrics represents circuit breaker statistics.
type BreakerMetrics struct {
	Target          string    `json:"target"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
	TotalCalls      int64     `json:"total_calls"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	TotalTimeouts   int64     `json:"total_timeouts"`
}

// CircuitBreakerError is returned when the circuit rejects a call.
type CircuitBreakerError struct {
	Target          string
	State           State
	Failures        int
	LastFailureTime time.Time
	RetryAfter      time.Duration
}

// Error implements the error interface.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s (failures: %d, retry after: %s)",
		e.Target, e.State, e.Failures, e.RetryAfter.Round(time.Millisecond))
}

// IsCircuitOpen checks if err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
