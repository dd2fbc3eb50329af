// Package data provides data access layer implementations.
// It owns the redis, MySQL and outbound HTTP resources and the repositories
// built on them.
package data

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"

	"Wayfarer/internal/conf"
	"Wayfarer/pkg/fetch"
	"Wayfarer/pkg/metrics"
	"Wayfarer/pkg/resilience"
)

// MetricsNamespace prefixes every exported prometheus metric.
const MetricsNamespace = "wayfarer"

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewMetrics,
	NewResilienceRegistry,
	NewFetchClient,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient is nil when redis is not configured or unreachable
	redisClient *redis.Client
	cache       CacheClient
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, L2 cache and breaker snapshots are unavailable")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for repository use. A nil Data or one
// without redis yields a client that reports ErrCacheUnavailable.
func (d *Data) GetCache() CacheClient {
	if d == nil || d.cache == nil {
		return NewCacheClient(nil)
	}
	return d.cache
}

// GetRedisClient returns the Redis client, nil in degraded mode.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// NewMetrics creates the process-wide prometheus metrics.
func NewMetrics() *metrics.Metrics {
	return metrics.NewMetrics(MetricsNamespace)
}

// NewResilienceRegistry creates the per-target breaker and limiter registry.
// Client errors (non-retryable 4xx) do not count against a breaker.
func NewResilienceRegistry(c *conf.Resilience, m *metrics.Metrics, logger log.Logger) (*resilience.Registry, func()) {
	cfg := RegistryConfig(c)
	cfg.Breaker.IsFailure = fetch.IsProviderFailure

	registry := resilience.NewRegistry(cfg, logger)
	registry.Watch(m.BreakerStateChanged)

	return registry, registry.Shutdown
}

// RegistryConfig converts the resilience configuration tree. Unset fields fall
// back to the resilience package defaults.
func RegistryConfig(c *conf.Resilience) resilience.RegistryConfig {
	cfg := resilience.RegistryConfig{
		Breaker: resilience.DefaultBreakerConfig(),
		Limiter: resilience.DefaultLimiterConfig(),
	}

	if b := c.GetBreaker(); b != nil {
		if b.FailureThreshold > 0 {
			cfg.Breaker.FailureThreshold = int(b.FailureThreshold)
		}
		if b.SuccessThreshold > 0 {
			cfg.Breaker.SuccessThreshold = int(b.SuccessThreshold)
		}
		if d := b.ResetTimeout.AsDuration(); d > 0 {
			cfg.Breaker.ResetTimeout = d
		}
		if b.MonitoringPeriod != nil {
			cfg.Breaker.MonitoringPeriod = b.MonitoringPeriod.AsDuration()
		}
		if b.Timeout != nil {
			cfg.Breaker.Timeout = b.Timeout.AsDuration()
		}
		if b.HalfOpenMaxCalls > 0 {
			cfg.Breaker.HalfOpenMaxCalls = int(b.HalfOpenMaxCalls)
		}
	}

	if l := c.GetLimiter(); l != nil {
		cfg.Limiter = limiterConfig(l)
	}

	if c != nil && len(c.Hosts) > 0 {
		cfg.HostLimiters = make(map[string]resilience.LimiterConfig, len(c.Hosts))
		for host, l := range c.Hosts {
			cfg.HostLimiters[host] = limiterConfig(l)
		}
	}

	return cfg
}

func limiterConfig(l *conf.Resilience_Limiter) resilience.LimiterConfig {
	if l == nil {
		return resilience.DefaultLimiterConfig()
	}
	return resilience.LimiterConfig{
		MinTime:                  l.MinTime.AsDuration(),
		MaxConcurrent:            int(l.MaxConcurrent),
		Reservoir:                int(l.Reservoir),
		ReservoirRefreshAmount:   int(l.ReservoirRefreshAmount),
		ReservoirRefreshInterval: l.ReservoirRefreshInterval.AsDuration(),
	}
}

// NewFetchClient creates the resilient outbound HTTP client shared by every
// provider integration.
func NewFetchClient(c *conf.Fetch, registry *resilience.Registry, m *metrics.Metrics, logger log.Logger) (*fetch.Client, error) {
	cfg := fetch.DefaultConfig()
	var allow *fetch.Allowlist

	if c != nil {
		if d := c.Timeout.AsDuration(); d > 0 {
			cfg.Timeout = d
		}
		if c.Retries >= 0 {
			cfg.Retries = int(c.Retries)
		}
		if d := c.BaseDelay.AsDuration(); d > 0 {
			cfg.BaseDelay = d
		}
		if d := c.MaxDelay.AsDuration(); d > 0 {
			cfg.MaxDelay = d
		}
		if c.Multiplier >= 1 {
			cfg.Multiplier = c.Multiplier
		}
		if d := c.MaxRetryAfter.AsDuration(); d > 0 {
			cfg.MaxRetryAfter = d
		}
		cfg.ProxyURL = c.ProxyUrl
		allow = fetch.NewAllowlist(c.Allowlist)
	}

	return fetch.NewClient(cfg, allow, registry, m, logger)
}
