package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recovery/internal/domain"
)

func TestBillBooking(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	b := &domain.Booking{
		ID:            "b1",
		ServiceCharge: 100,
		WaitingCharge: 14,
		StartedAt:     start,
		CompletedAt:   start.Add(25 * time.Minute),
	}

	bill := billBooking(b, true)
	assert.Equal(t, 100.0, bill.Fare)
	assert.Equal(t, 114.0, bill.Total)
	assert.Equal(t, 114.0, b.TotalFare)
	assert.Equal(t, 25*time.Minute, bill.Duration)

	b.NegotiatedFare = 80
	bill = billBooking(b, true)
	assert.Equal(t, 80.0, bill.Fare)
	assert.Equal(t, 94.0, bill.Total)
}

func TestFormatBill(t *testing.T) {
	receipt := FormatBill(Bill{BookingID: "b1", Fare: 80, WaitingCharge: 14, Total: 94, Duration: 25 * time.Minute})
	assert.Contains(t, receipt, "Booking ID: b1")
	assert.Contains(t, receipt, "25 min")
	assert.Contains(t, receipt, "AED 94.00")
}
