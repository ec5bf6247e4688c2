package service

import "recovery/internal/domain"

// Progress returns the fraction of the pickup leg the driver has covered, in [0, 1].
func Progress(initialKm, remainingKm float64) float64 {
	if initialKm <= 0 {
		return 0
	}
	p := 1 - remainingKm/initialKm
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// ClassifyTier places a cancellation in its fee tier.
func ClassifyTier(progress float64, arrived bool, policy domain.CancellationPolicy) domain.CancellationTier {
	switch {
	case arrived:
		return domain.TierAfterArrival
	case progress >= policy.UpperBoundary:
		return domain.TierAfter50Percent
	case progress >= policy.LowerBoundary:
		return domain.TierAfter25Percent
	}
	return domain.TierBefore25Percent
}

// CancellationFee returns the fee configured for the tier.
func CancellationFee(tier domain.CancellationTier, policy domain.CancellationPolicy) float64 {
	kind, ok := policy.TierFees[tier]
	if !ok {
		return 0
	}
	return policy.Fees.Amount(kind)
}
