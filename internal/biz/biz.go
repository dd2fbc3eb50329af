// Package biz contains business logic layer implementations.
// This layer holds the rebooking engine, the rebooking constraints and the
// operator view of the resilience registry.
package biz

import (
	"github.com/google/wire"

	"Wayfarer/internal/data"
	"Wayfarer/pkg/metrics"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewStaticFareRules,
	NewConstraintValidator,
	NewOptionRanker,
	NewIrropsUsecase,
	NewResilienceUsecase,
	// Import data layer providers
	data.NewFlightSearchRepo,
	data.NewBreakerSnapshotRepo,
	data.NewAuditLogger,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(FareRulesEngine), new(*StaticFareRules)),
	wire.Bind(new(FlightSearcher), new(*data.FlightSearchRepo)),
	wire.Bind(new(BreakerSnapshotRepo), new(*data.BreakerSnapshotRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(IrropsMetrics), new(*metrics.Metrics)),
	wire.Bind(new(data.CacheObserver), new(*metrics.Metrics)),
)
