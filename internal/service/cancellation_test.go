package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"recovery/internal/domain"
)

func TestProgress(t *testing.T) {
	assert.Zero(t, Progress(0, 3))
	assert.Zero(t, Progress(10, 12), "moving away clamps to zero")
	assert.InDelta(t, 0.6, Progress(10, 4), 1e-9)
	assert.Equal(t, 1.0, Progress(10, 0))
}

func TestClassifyTier(t *testing.T) {
	policy := domain.DefaultCancellationPolicy(domain.CancellationFees{BeforeArrivalFee: 2, MidFee: 5, AfterArrivalFee: 10})

	tests := []struct {
		name     string
		progress float64
		arrived  bool
		tier     domain.CancellationTier
		fee      float64
	}{
		{"just assigned", 0, false, domain.TierBefore25Percent, 2},
		{"below lower boundary", 0.249, false, domain.TierBefore25Percent, 2},
		{"at lower boundary", 0.25, false, domain.TierAfter25Percent, 5},
		{"at upper boundary", 0.5, false, domain.TierAfter50Percent, 10},
		{"almost there", 0.99, false, domain.TierAfter50Percent, 10},
		{"arrived", 0.1, true, domain.TierAfterArrival, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier := ClassifyTier(tt.progress, tt.arrived, policy)
			assert.Equal(t, tt.tier, tier)
			assert.Equal(t, tt.fee, CancellationFee(tier, policy))
		})
	}
}

func TestCancellationFee_UnmappedTier(t *testing.T) {
	policy := domain.CancellationPolicy{Fees: domain.CancellationFees{MidFee: 5}}
	assert.Zero(t, CancellationFee(domain.TierAfter25Percent, policy))
}
