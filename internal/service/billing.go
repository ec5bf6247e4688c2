package service

import (
	"fmt"
	"time"

	"recovery/internal/domain"
)

// Bill is the fare breakdown of a booking at start or completion.
type Bill struct {
	BookingID      string        `json:"bookingId"`
	ServiceCharge  float64       `json:"serviceCharge"`
	NegotiatedFare float64       `json:"negotiatedFare,omitempty"`
	Fare           float64       `json:"fare"`
	WaitingCharge  float64       `json:"waitingCharge"`
	Total          float64       `json:"total"`
	Duration       time.Duration `json:"durationNs,omitempty"`
	DistanceKm     float64       `json:"distanceKm,omitempty"`
	Final          bool          `json:"final"`
}

// fareBasis is the agreed fare: the negotiated fare when one exists, else the base service charge.
func fareBasis(b *domain.Booking) float64 {
	if b.NegotiatedFare > 0 {
		return b.NegotiatedFare
	}
	return b.ServiceCharge
}

// billBooking computes the bill from the booking's fare fields and stamps the totals on it.
func billBooking(b *domain.Booking, final bool) Bill {
	fare := fareBasis(b)
	b.TotalFare = fare + b.WaitingCharge

	bill := Bill{
		BookingID:      b.ID,
		ServiceCharge:  b.ServiceCharge,
		NegotiatedFare: b.NegotiatedFare,
		Fare:           fare,
		WaitingCharge:  b.WaitingCharge,
		Total:          b.TotalFare,
		Final:          final,
	}
	if final && !b.StartedAt.IsZero() && !b.CompletedAt.IsZero() {
		bill.Duration = b.CompletedAt.Sub(b.StartedAt)
	}
	if b.Destination != nil {
		bill.DistanceKm = DistanceKm(b.Pickup, *b.Destination)
	}
	return bill
}

// FormatBill renders a bill as plain text for receipts.
func FormatBill(bill Bill) string {
	return `
=====================================
        RECOVERY RECEIPT
=====================================
Booking ID: ` + bill.BookingID + `
Duration:   ` + formatDuration(bill.Duration) + `
Distance:   ` + formatFloat(bill.DistanceKm) + ` km

FARE BREAKDOWN
-------------------------------------
Fare:             AED ` + formatFloat(bill.Fare) + `
Waiting charge:   AED ` + formatFloat(bill.WaitingCharge) + `
-------------------------------------
TOTAL:            AED ` + formatFloat(bill.Total) + `
=====================================
`
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	return fmt.Sprintf("%d min", minutes)
}
