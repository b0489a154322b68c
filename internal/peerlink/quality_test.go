package peerlink

import (
	"testing"

	"github.com/reelchat/call-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		stats domain.CallStats
		want  domain.ConnectionQuality
	}{
		{"clean sample", domain.CallStats{}, domain.QualityExcellent},
		{"heavy loss", domain.CallStats{PacketsLost: 11}, domain.QualityPoor},
		{"moderate loss", domain.CallStats{PacketsLost: 6}, domain.QualityFair},
		{"loss boundary stays excellent", domain.CallStats{PacketsLost: 5}, domain.QualityExcellent},
		{"high jitter", domain.CallStats{JitterMs: 31}, domain.QualityFair},
		{"slow round trip", domain.CallStats{RoundTripMs: 201}, domain.QualityFair},
		{"loss dominates jitter", domain.CallStats{PacketsLost: 11, JitterMs: 31}, domain.QualityPoor},
		{"round trip boundary stays excellent", domain.CallStats{RoundTripMs: 200}, domain.QualityExcellent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stats))
		})
	}
}

// The classification never produces "good": the thresholds for it are
// unconfirmed, so everything below the fair cutoffs maps to excellent.
func TestClassifyNeverGood(t *testing.T) {
	samples := []domain.CallStats{
		{},
		{PacketsLost: 3, JitterMs: 10, RoundTripMs: 100},
		{PacketsLost: 5, JitterMs: 30, RoundTripMs: 200},
		{PacketsLost: 100},
		{JitterMs: 500},
	}
	for _, s := range samples {
		assert.NotEqual(t, domain.QualityGood, Classify(s))
	}
}
