package biz

import (
	"context"

	"Wayfarer/internal/model"
)

// AuditLogger defines the interface for audit logging.
// Implementations must not block the caller.
type AuditLogger interface {
	// LogIrropsRun logs the outcome of one rebooking run
	LogIrropsRun(ctx context.Context, event *model.IrropsRunEvent)

	// LogBreakerTransition logs a circuit breaker state change or manual reset
	LogBreakerTransition(ctx context.Context, event *model.BreakerTransitionEvent)
}
