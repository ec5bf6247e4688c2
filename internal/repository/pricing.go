package repository

import (
	"context"

	"recovery/internal/domain"
)

// PricingRepository exposes the per-service pricing configuration.
type PricingRepository interface {
	// GetCancellationPolicy returns the cancellation fee tiers for a service type.
	GetCancellationPolicy(ctx context.Context, serviceType string) (*domain.CancellationPolicy, error)

	// GetWaitingChargeConfig returns the waiting charge settings for a service type.
	GetWaitingChargeConfig(ctx context.Context, serviceType string) (*domain.WaitingChargeConfig, error)

	// GetServiceCharge returns the base charge for a service type.
	GetServiceCharge(ctx context.Context, serviceType string) (float64, error)
}
