package repository

import (
	"context"

	"recovery/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
// Every method is safe to retry with the same input.
type BookingRepository interface {
	// Create persists a new booking. The booking ID is allocated by the caller.
	Create(ctx context.Context, booking *domain.Booking) error

	// FindByID retrieves a booking by ID.
	FindByID(ctx context.Context, id string) (*domain.Booking, error)

	// Save writes the full booking record, inserting it if missing.
	Save(ctx context.Context, booking *domain.Booking) error
}
