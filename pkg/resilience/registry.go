package resilience

import (
	"sort"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	pkglog "Wayfarer/pkg/log"
)

// RegistryConfig holds the defaults and per-target overrides used when the
// registry lazily creates breakers and limiters.
type RegistryConfig struct {
	Breaker      BreakerConfig
	Limiter      LimiterConfig
	HostLimiters map[string]LimiterConfig
}

// Registry owns the per-target circuit breakers and rate limiters for the
// lifetime of the process. It is created by the composition root and
// injected into the fetch client.
type Registry struct {
	mu       sync.Mutex
	config   RegistryConfig
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter
	watchers []StateChangeFunc
	logger   *pkglog.LogHelper
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig, logger log.Logger) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
		limiters: make(map[string]*RateLimiter),
		logger:   pkglog.NewLogHelper(logger),
	}
}

// Watch registers fn to be notified of every breaker state change.
func (r *Registry) Watch(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

func (r *Registry) notify(target string, from, to State) {
	r.mu.Lock()
	watchers := make([]StateChangeFunc, len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.Unlock()

	r.logger.Breaker(target, from.String(), to.String())

	for _, w := range watchers {
		w(target, from, to)
	}
}

// Breaker returns the breaker for target, creating it on first use.
func (r *Registry) Breaker(target string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}

	cfg := r.config.Breaker
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(t string, from, to State) {
		if userHook != nil {
			userHook(t, from, to)
		}
		r.notify(t, from, to)
	}

	b := NewCircuitBreaker(target, cfg)
	r.breakers[target] = b
	r.logger.Debugw("msg", "circuit breaker created", "target", target)

	return b
}

// Limiter returns the rate limiter for target, creating it on first use.
func (r *Registry) Limiter(target string) *RateLimiter {
	return r.LimiterFor(target, target)
}

// LimiterFor returns the rate limiter for target. On first use the override
// keyed by target wins, then the one keyed by the upstream host.
func (r *Registry) LimiterFor(target, host string) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[target]; ok {
		return l
	}

	cfg := r.config.Limiter
	if override, ok := r.config.HostLimiters[target]; ok {
		cfg = override
	} else if override, ok := r.config.HostLimiters[host]; ok {
		cfg = override
	}

	l := NewRateLimiter(target, cfg)
	r.limiters[target] = l
	r.logger.Debugw("msg", "rate limiter created",
		"target", target,
		"min_time", cfg.MinTime,
		"max_concurrent", cfg.MaxConcurrent,
		"reservoir", cfg.Reservoir)

	return l
}

// Reset forces the breaker for target back to CLOSED and returns the state
// it was in. It reports false when no breaker exists for target.
func (r *Registry) Reset(target string) (State, bool) {
	r.mu.Lock()
	b, ok := r.breakers[target]
	r.mu.Unlock()

	if !ok {
		return StateClosed, false
	}

	from := b.Reset()
	r.logger.Infow("msg", "circuit breaker reset", "target", target, "from", from.String(), "type", "breaker")
	return from, true
}

// BreakerMetrics returns a snapshot of every breaker, ordered by target.
func (r *Registry) BreakerMetrics() []BreakerMetrics {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]BreakerMetrics, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// LimiterStatuses returns a snapshot of every limiter, ordered by target.
func (r *Registry) LimiterStatuses() []LimiterStatus {
	r.mu.Lock()
	limiters := make([]*RateLimiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.Unlock()

	out := make([]LimiterStatus, 0, len(limiters))
	for _, l := range limiters {
		out = append(out, l.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Shutdown logs the final breaker state and drops all entries.
func (r *Registry) Shutdown() {
	for _, m := range r.BreakerMetrics() {
		r.logger.Infow("msg", "circuit breaker final state",
			"target", m.Target,
			"state", m.State.String(),
			"total_calls", m.TotalCalls,
			"total_failures", m.TotalFailures,
			"total_rejections", m.TotalRejections)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
	r.limiters = make(map[string]*RateLimiter)
	r.watchers = nil
}
