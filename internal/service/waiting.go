package service

import (
	"math"
	"time"

	"recovery/internal/domain"
)

// WaitingCharge returns the charge for elapsedMinutes of waiting:
// min(ceil(max(0, elapsed - free)) * rate, maxCharge).
func WaitingCharge(elapsedMinutes float64, cfg domain.WaitingChargeConfig) float64 {
	charge := float64(ChargeableMinutes(elapsedMinutes, cfg.FreeMinutes)) * cfg.PerMinuteRate
	return math.Min(charge, cfg.MaxCharge)
}

// ChargeableMinutes returns the whole minutes billed beyond the free allowance.
func ChargeableMinutes(elapsedMinutes, freeMinutes float64) int {
	over := elapsedMinutes - freeMinutes
	if over <= 0 {
		return 0
	}
	return int(math.Ceil(over))
}

// WaitingQuote is a point-in-time evaluation of a waiting timer.
type WaitingQuote struct {
	BookingID         string    `json:"bookingId"`
	ElapsedMinutes    float64   `json:"elapsedMinutes"`
	FreeMinutes       float64   `json:"freeMinutes"`
	ChargeableMinutes int       `json:"chargeableMinutes"`
	PerMinuteRate     float64   `json:"perMinuteRate"`
	MaxCharge         float64   `json:"maxCharge"`
	Charge            float64   `json:"charge"`
	Stopped           bool      `json:"stopped"`
	At                time.Time `json:"at"`
}

func quoteWaiting(bookingID string, w *domain.WaitingTimer, now time.Time) WaitingQuote {
	elapsed := w.ElapsedMinutes(now)
	cfg := domain.WaitingChargeConfig{
		FreeMinutes:   w.FreeMinutes,
		PerMinuteRate: w.PerMinuteRate,
		MaxCharge:     w.MaxCharge,
	}
	return WaitingQuote{
		BookingID:         bookingID,
		ElapsedMinutes:    elapsed,
		FreeMinutes:       w.FreeMinutes,
		ChargeableMinutes: ChargeableMinutes(elapsed, w.FreeMinutes),
		PerMinuteRate:     w.PerMinuteRate,
		MaxCharge:         w.MaxCharge,
		Charge:            WaitingCharge(elapsed, cfg),
		Stopped:           !w.StoppedAt.IsZero(),
		At:                now,
	}
}
