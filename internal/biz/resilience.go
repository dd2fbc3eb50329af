package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"Wayfarer/internal/conf"
	"Wayfarer/internal/model"
	"Wayfarer/pkg/resilience"
)

// BreakerSnapshotRepo persists breaker snapshots so they survive restarts.
type BreakerSnapshotRepo interface {
	SaveSnapshots(ctx context.Context, snapshots []*model.BreakerSnapshot, ttl time.Duration) error
	ListSnapshots(ctx context.Context) ([]*model.BreakerSnapshot, error)
}

// ResilienceUsecase exposes the breaker registry to operators.
type ResilienceUsecase struct {
	registry  *resilience.Registry
	snapshots BreakerSnapshotRepo
	audit     AuditLogger
	logger    *log.Helper

	snapshotTTL time.Duration
	now         func() time.Time

	// resetting counts operator resets in flight per target; their
	// transitions are audited once by ResetBreaker
	mu        sync.Mutex
	resetting map[string]int
}

// NewResilienceUsecase creates the usecase and subscribes it to breaker state changes.
func NewResilienceUsecase(c *conf.Cron, registry *resilience.Registry, snapshots BreakerSnapshotRepo, audit AuditLogger, logger log.Logger) *ResilienceUsecase {
	uc := &ResilienceUsecase{
		registry:    registry,
		snapshots:   snapshots,
		audit:       audit,
		logger:      log.NewHelper(logger),
		snapshotTTL: 24 * time.Hour,
		now:         time.Now,
		resetting:   make(map[string]int),
	}
	if c != nil && c.SnapshotTtl.AsDuration() > 0 {
		uc.snapshotTTL = c.SnapshotTtl.AsDuration()
	}

	registry.Watch(uc.onStateChange)
	return uc
}

func (uc *ResilienceUsecase) onStateChange(target string, from, to resilience.State) {
	uc.mu.Lock()
	manual := uc.resetting[target] > 0
	uc.mu.Unlock()
	if manual && to == resilience.StateClosed {
		return
	}

	uc.audit.LogBreakerTransition(context.Background(), &model.BreakerTransitionEvent{
		Target: target,
		From:   from.String(),
		To:     to.String(),
		At:     uc.now(),
	})
}

// ResilienceStatus is the live view of every breaker and limiter.
type ResilienceStatus struct {
	Breakers []resilience.BreakerMetrics `json:"breakers"`
	Limiters []resilience.LimiterStatus  `json:"limiters"`
}

// Status returns live breaker metrics and limiter statuses.
func (uc *ResilienceUsecase) Status(_ context.Context) *ResilienceStatus {
	return &ResilienceStatus{
		Breakers: uc.registry.BreakerMetrics(),
		Limiters: uc.registry.LimiterStatuses(),
	}
}

// ResetBreaker forces the breaker for target to CLOSED. A breaker that was
// already CLOSED is left as is and nothing is audited.
func (uc *ResilienceUsecase) ResetBreaker(ctx context.Context, target string) error {
	if target == "" {
		return errors.BadRequest("INVALID_TARGET", "target is required")
	}

	uc.mu.Lock()
	uc.resetting[target]++
	uc.mu.Unlock()

	before, ok := uc.registry.Reset(target)

	uc.mu.Lock()
	uc.resetting[target]--
	if uc.resetting[target] == 0 {
		delete(uc.resetting, target)
	}
	uc.mu.Unlock()

	if !ok {
		return errors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker for target "+target)
	}
	if before == resilience.StateClosed {
		uc.logger.WithContext(ctx).Infow("msg", "circuit breaker already closed", "target", target, "type", "breaker")
		return nil
	}

	uc.audit.LogBreakerTransition(ctx, &model.BreakerTransitionEvent{
		Target: target,
		From:   before.String(),
		To:     resilience.StateClosed.String(),
		At:     uc.now(),
		Manual: true,
	})
	uc.logger.WithContext(ctx).Infow("msg", "circuit breaker reset by operator", "target", target, "from", before.String(), "type", "breaker")
	return nil
}

// SnapshotBreakers persists the current metrics of every breaker.
func (uc *ResilienceUsecase) SnapshotBreakers(ctx context.Context) (int, error) {
	metrics := uc.registry.BreakerMetrics()
	if len(metrics) == 0 {
		return 0, nil
	}

	captured := uc.now()
	snapshots := make([]*model.BreakerSnapshot, 0, len(metrics))
	for _, m := range metrics {
		snapshots = append(snapshots, &model.BreakerSnapshot{
			Target:          m.Target,
			State:           m.State.String(),
			FailureCount:    m.FailureCount,
			SuccessCount:    m.SuccessCount,
			LastFailureTime: m.LastFailureTime,
			LastStateChange: m.LastStateChange,
			TotalCalls:      m.TotalCalls,
			TotalFailures:   m.TotalFailures,
			TotalRejections: m.TotalRejections,
			TotalTimeouts:   m.TotalTimeouts,
			CapturedAt:      captured,
		})
	}

	if err := uc.snapshots.SaveSnapshots(ctx, snapshots, uc.snapshotTTL); err != nil {
		return 0, err
	}
	return len(snapshots), nil
}

// ListSnapshots returns the persisted breaker snapshots.
func (uc *ResilienceUsecase) ListSnapshots(ctx context.Context) ([]*model.BreakerSnapshot, error) {
	return uc.snapshots.ListSnapshots(ctx)
}
