package biz

import (
	"Wayfarer/internal/model"
)

const (
	partialChangeFee   = 150.0
	fullChangeFee      = 300.0
	premiumCabinCharge = 200.0
)

// FareRulesResult is the priced outcome of a fare change.
type FareRulesResult struct {
	Valid        bool
	Fee          float64
	Restrictions []string
}

// FareRulesEngine prices fare changes. Implementations must be pure.
type FareRulesEngine interface {
	Evaluate(originalFareKey string, newSegments []model.Segment, changeType ChangeType) FareRulesResult
}

// StaticFareRules is the flat fee schedule used until a real fare engine is
// connected. It never rejects a change.
type StaticFareRules struct{}

// NewStaticFareRules creates the flat fee schedule.
func NewStaticFareRules() *StaticFareRules {
	return &StaticFareRules{}
}

// Evaluate implements FareRulesEngine.
func (StaticFareRules) Evaluate(_ string, newSegments []model.Segment, changeType ChangeType) FareRulesResult {
	fee := fullChangeFee
	if changeType == ChangePartial {
		fee = partialChangeFee
	}

	for _, s := range newSegments {
		if model.IsPremiumCabin(s.Cabin) {
			fee += premiumCabinCharge
			break
		}
	}

	return FareRulesResult{
		Valid: true,
		Fee:   fee,
		Restrictions: []string{
			"Changes must be made before original departure",
			"Fare difference may apply",
			"Non-refundable after rebooking",
		},
	}
}
