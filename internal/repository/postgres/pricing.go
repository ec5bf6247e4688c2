package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"recovery/internal/domain"
	"recovery/internal/repository"
)

// PricingRepository reads per-service pricing from the service_pricing table.
type PricingRepository struct {
	q Querier
}

// NewPricingRepository creates a new PostgreSQL pricing repository.
func NewPricingRepository(db *sql.DB) *PricingRepository {
	return &PricingRepository{q: db}
}

// GetCancellationPolicy returns the cancellation fee tiers for a service type.
// An empty tier mapping falls back to the default 25%/50% mapping.
func (r *PricingRepository) GetCancellationPolicy(ctx context.Context, serviceType string) (*domain.CancellationPolicy, error) {
	query := `
		SELECT before_arrival_fee, mid_fee, after_arrival_fee, lower_boundary, upper_boundary, tier_fees
		FROM service_pricing WHERE service_type = $1
	`

	var fees domain.CancellationFees
	var lower, upper sql.NullFloat64
	var tierFees []byte

	err := r.q.QueryRowContext(ctx, query, serviceType).Scan(
		&fees.BeforeArrivalFee,
		&fees.MidFee,
		&fees.AfterArrivalFee,
		&lower,
		&upper,
		&tierFees,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	policy := domain.DefaultCancellationPolicy(fees)
	if lower.Valid {
		policy.LowerBoundary = lower.Float64
	}
	if upper.Valid {
		policy.UpperBoundary = upper.Float64
	}
	if len(tierFees) > 0 {
		overrides := make(map[domain.CancellationTier]domain.FeeKind)
		if err := json.Unmarshal(tierFees, &overrides); err != nil {
			return nil, err
		}
		for tier, kind := range overrides {
			policy.TierFees[tier] = kind
		}
	}

	return &policy, nil
}

// GetWaitingChargeConfig returns the waiting charge settings for a service type.
func (r *PricingRepository) GetWaitingChargeConfig(ctx context.Context, serviceType string) (*domain.WaitingChargeConfig, error) {
	query := `SELECT free_minutes, per_minute_rate, max_waiting_charge FROM service_pricing WHERE service_type = $1`

	var cfg domain.WaitingChargeConfig
	err := r.q.QueryRowContext(ctx, query, serviceType).Scan(&cfg.FreeMinutes, &cfg.PerMinuteRate, &cfg.MaxCharge)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &cfg, nil
}

// GetServiceCharge returns the base charge for a service type.
func (r *PricingRepository) GetServiceCharge(ctx context.Context, serviceType string) (float64, error) {
	query := `SELECT base_charge FROM service_pricing WHERE service_type = $1`

	var charge float64
	err := r.q.QueryRowContext(ctx, query, serviceType).Scan(&charge)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}

	return charge, nil
}
