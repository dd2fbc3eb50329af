package biz

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"Wayfarer/internal/model"
)

// MockFlightSearcher is a mock implementation of FlightSearcher for testing.
type MockFlightSearcher struct {
	mock.Mock
}

func (m *MockFlightSearcher) SearchAlternatives(ctx context.Context, query model.FlightSearchQuery) ([]model.FlightAlternative, error) {
	args := m.Called(ctx, query)
	alts, _ := args.Get(0).([]model.FlightAlternative)
	return alts, args.Error(1)
}

// MockIrropsMetrics is a mock implementation of IrropsMetrics for testing.
type MockIrropsMetrics struct {
	mock.Mock
}

func (m *MockIrropsMetrics) ObserveIrrops(disruptionType string, optionCount int, d time.Duration, success bool) {
	m.Called(disruptionType, optionCount, d, success)
}

// MockAuditLogger is a mock implementation of AuditLogger for testing.
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogIrropsRun(ctx context.Context, event *model.IrropsRunEvent) {
	m.Called(ctx, event)
}

func (m *MockAuditLogger) LogBreakerTransition(ctx context.Context, event *model.BreakerTransitionEvent) {
	m.Called(ctx, event)
}

// MockBreakerSnapshotRepo is a mock implementation of BreakerSnapshotRepo for testing.
type MockBreakerSnapshotRepo struct {
	mock.Mock
}

func (m *MockBreakerSnapshotRepo) SaveSnapshots(ctx context.Context, snapshots []*model.BreakerSnapshot, ttl time.Duration) error {
	args := m.Called(ctx, snapshots, ttl)
	return args.Error(0)
}

func (m *MockBreakerSnapshotRepo) ListSnapshots(ctx context.Context) ([]*model.BreakerSnapshot, error) {
	args := m.Called(ctx)
	snaps, _ := args.Get(0).([]*model.BreakerSnapshot)
	return snaps, args.Error(1)
}
