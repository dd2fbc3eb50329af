package biz

import "Wayfarer/internal/model"

const (
	baseConfidence        = 0.8
	sameCarrierBonus      = 0.1
	highSeverityPenalty   = 0.2
	lowSeverityAdjustment = 0.1
)

// ScoreConfidence rates how likely a rebooking option is to be accepted.
func ScoreConfidence(sameCarrier bool, severity model.Severity) float64 {
	score := baseConfidence
	if sameCarrier {
		score += sameCarrierBonus
	}

	switch severity {
	case model.SeverityHigh:
		score -= highSeverityPenalty
	case model.SeverityLow:
		score += lowSeverityAdjustment
	}

	return min(1, max(0, score))
}
