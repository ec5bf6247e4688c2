package domain

// CancellationTier is how far the assigned driver had progressed when a booking was cancelled.
type CancellationTier string

const (
	TierBefore25Percent CancellationTier = "before25Percent"
	TierAfter25Percent  CancellationTier = "after25Percent"
	TierAfter50Percent  CancellationTier = "after50Percent"
	TierAfterArrival    CancellationTier = "afterArrival"
)

// FeeKind names one of the three configured cancellation fee amounts.
type FeeKind string

const (
	FeeBeforeArrival FeeKind = "beforeArrivalFee"
	FeeMid           FeeKind = "midFee"
	FeeAfterArrival  FeeKind = "afterArrivalFee"
)

// CancellationFees are the configured fee amounts (AED).
type CancellationFees struct {
	BeforeArrivalFee float64 `json:"beforeArrivalFee"`
	MidFee           float64 `json:"midFee"`
	AfterArrivalFee  float64 `json:"afterArrivalFee"`
}

// Amount returns the fee for kind.
func (f CancellationFees) Amount(kind FeeKind) float64 {
	switch kind {
	case FeeBeforeArrival:
		return f.BeforeArrivalFee
	case FeeMid:
		return f.MidFee
	case FeeAfterArrival:
		return f.AfterArrivalFee
	}
	return 0
}

// CancellationPolicy maps driver progress toward pickup onto a fee.
type CancellationPolicy struct {
	Fees CancellationFees `json:"fees"`
	// Progress fractions separating the tiers.
	LowerBoundary float64 `json:"lowerBoundary"`
	UpperBoundary float64 `json:"upperBoundary"`
	// TierFees selects which fee applies to each tier.
	TierFees map[CancellationTier]FeeKind `json:"tierFees"`
}

// DefaultCancellationPolicy returns the standard 25%/50% policy for the given fees.
func DefaultCancellationPolicy(fees CancellationFees) CancellationPolicy {
	return CancellationPolicy{
		Fees:          fees,
		LowerBoundary: 0.25,
		UpperBoundary: 0.50,
		TierFees: map[CancellationTier]FeeKind{
			TierBefore25Percent: FeeBeforeArrival,
			TierAfter25Percent:  FeeMid,
			TierAfter50Percent:  FeeAfterArrival,
			TierAfterArrival:    FeeAfterArrival,
		},
	}
}

// WaitingChargeConfig configures billable waiting time after arrival.
type WaitingChargeConfig struct {
	FreeMinutes   float64 `json:"freeMinutes"`
	PerMinuteRate float64 `json:"perMinuteRate"`
	MaxCharge     float64 `json:"maxCharge"`
}
