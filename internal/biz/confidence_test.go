package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"Wayfarer/internal/model"
)

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name        string
		sameCarrier bool
		severity    model.Severity
		want        float64
	}{
		{"same carrier low severity is capped", true, model.SeverityLow, 1.0},
		{"other carrier high severity", false, model.SeverityHigh, 0.6},
		{"same carrier medium", true, model.SeverityMedium, 0.9},
		{"other carrier medium", false, model.SeverityMedium, 0.8},
		{"same carrier high", true, model.SeverityHigh, 0.7},
		{"unknown severity", false, "", 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreConfidence(tt.sameCarrier, tt.severity)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}
