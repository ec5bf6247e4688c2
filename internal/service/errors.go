package service

import (
	"errors"
	"fmt"
	"strings"

	"recovery/internal/domain"
)

var (
	// ErrInvalidRequest is returned when a request payload is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBookingNotFound is returned when the booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrNotAuthorized is returned when the actor may not act on the booking.
	ErrNotAuthorized = errors.New("not authorized for this request")

	// ErrInvalidTransition is returned when an operation is illegal in the booking's current status.
	ErrInvalidTransition = errors.New("invalid booking transition")

	// ErrNoDriverAvailable is returned when no driver can be matched.
	ErrNoDriverAvailable = errors.New("no driver available")

	// ErrOfferNotFound is returned when a fare offer does not exist on the booking.
	ErrOfferNotFound = errors.New("fare offer not found")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")
)

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StateError reports an operation attempted in the wrong booking status.
type StateError struct {
	Op       string
	Expected []domain.BookingStatus
	Current  domain.BookingStatus
}

func (e *StateError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("cannot %s: booking is %s, expected %s", e.Op, e.Current, strings.Join(expected, " or "))
}

func (e *StateError) Unwrap() error {
	return ErrInvalidTransition
}

// requireStatus returns a StateError unless b is in one of the allowed statuses.
func requireStatus(op string, b *domain.Booking, allowed ...domain.BookingStatus) error {
	for _, s := range allowed {
		if b.Status == s {
			return nil
		}
	}
	return &StateError{Op: op, Expected: allowed, Current: b.Status}
}
