package main

import (
	"context"
	"errors"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"

	"Wayfarer/internal/biz"
	"Wayfarer/internal/conf"
	"Wayfarer/internal/data"
	pkglog "Wayfarer/pkg/log"
)

const defaultSnapshotSpec = "@every 1m"

// breakerSnapshotter is the part of the resilience usecase the job needs.
type breakerSnapshotter interface {
	SnapshotBreakers(ctx context.Context) (int, error)
}

var _ breakerSnapshotter = (*biz.ResilienceUsecase)(nil)

// snapshotCron 定时把熔断器状态写入 redis
// Implements kratos transport.Server so the app owns its lifecycle.
type snapshotCron struct {
	spec    string
	uc      breakerSnapshotter
	cron    *cron.Cron
	logger  *pkglog.LogHelper
	timeout time.Duration
}

func newSnapshotCron(c *conf.Cron, uc *biz.ResilienceUsecase, logger log.Logger) *snapshotCron {
	return newSnapshotCronWith(c, uc, logger)
}

func newSnapshotCronWith(c *conf.Cron, uc breakerSnapshotter, logger log.Logger) *snapshotCron {
	spec := defaultSnapshotSpec
	if c != nil && c.SnapshotSpec != "" {
		spec = c.SnapshotSpec
	}
	return &snapshotCron{
		spec:    spec,
		uc:      uc,
		cron:    cron.New(cron.WithSeconds()),
		logger:  pkglog.NewLogHelper(logger),
		timeout: 30 * time.Second,
	}
}

// Start registers the job and starts the scheduler.
func (s *snapshotCron) Start(_ context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Scheduler("breaker snapshot job started", "spec", s.spec)
	return nil
}

// Stop waits for a running snapshot to finish or ctx to expire.
func (s *snapshotCron) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Scheduler("breaker snapshot job stopped")
	return nil
}

func (s *snapshotCron) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.uc.SnapshotBreakers(ctx)
	switch {
	case errors.Is(err, data.ErrCacheUnavailable):
		s.logger.Debugw("msg", "breaker snapshot skipped, redis unavailable", "type", "scheduler")
	case err != nil:
		s.logger.Errorw("msg", "breaker snapshot failed", "error", err.Error(), "type", "scheduler")
	case n > 0:
		s.logger.Scheduler("breaker snapshot saved", "count", n)
	}
}
