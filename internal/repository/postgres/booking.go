package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"recovery/internal/domain"
	"recovery/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
// Scalar fields live in columns; nested records are stored in JSONB.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// bookingDetails holds the nested parts of a booking serialised into the details column.
type bookingDetails struct {
	Preference          domain.DriverPreference `json:"preference"`
	Pickup              domain.Location         `json:"pickup"`
	Destination         *domain.Location        `json:"destination,omitempty"`
	Candidates          []string                `json:"candidates,omitempty"`
	RejectedBy          []string                `json:"rejectedBy,omitempty"`
	Offers              []domain.FareOffer      `json:"offers,omitempty"`
	DriverOrigin        *domain.Location        `json:"driverOrigin,omitempty"`
	DriverLast          *domain.Location        `json:"driverLast,omitempty"`
	InitialDistanceKm   float64                 `json:"initialDistanceKm,omitempty"`
	RemainingDistanceKm float64                 `json:"remainingDistanceKm,omitempty"`
	Waiting             *domain.WaitingTimer    `json:"waiting,omitempty"`
	Cancellation        *domain.Cancellation    `json:"cancellation,omitempty"`
	Messages            []domain.Message        `json:"messages,omitempty"`
	AssignedAt          time.Time               `json:"assignedAt,omitempty"`
	AcceptedAt          time.Time               `json:"acceptedAt,omitempty"`
	ArrivedAt           time.Time               `json:"arrivedAt,omitempty"`
	StartedAt           time.Time               `json:"startedAt,omitempty"`
	CompletedAt         time.Time               `json:"completedAt,omitempty"`
	CancelledAt         time.Time               `json:"cancelledAt,omitempty"`
}

func encodeBooking(b *domain.Booking) (details, history []byte, err error) {
	details, err = json.Marshal(bookingDetails{
		Preference:          b.Preference,
		Pickup:              b.Pickup,
		Destination:         b.Destination,
		Candidates:          b.Candidates,
		RejectedBy:          b.RejectedBy,
		Offers:              b.Offers,
		DriverOrigin:        b.DriverOrigin,
		DriverLast:          b.DriverLast,
		InitialDistanceKm:   b.InitialDistanceKm,
		RemainingDistanceKm: b.RemainingDistanceKm,
		Waiting:             b.Waiting,
		Cancellation:        b.Cancellation,
		Messages:            b.Messages,
		AssignedAt:          b.AssignedAt,
		AcceptedAt:          b.AcceptedAt,
		ArrivedAt:           b.ArrivedAt,
		StartedAt:           b.StartedAt,
		CompletedAt:         b.CompletedAt,
		CancelledAt:         b.CancelledAt,
	})
	if err != nil {
		return nil, nil, err
	}
	history, err = json.Marshal(b.History)
	if err != nil {
		return nil, nil, err
	}
	return details, history, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create persists a new booking. Creating an existing ID is a no-op.
func (r *BookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (id, requester_id, assigned_driver_id, service_type, vehicle_type, status, flow,
			estimated_fare, negotiated_fare, service_charge, waiting_charge, total_fare, details, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`

	details, history, err := encodeBooking(booking)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query,
		booking.ID,
		booking.RequesterID,
		nullString(booking.AssignedDriverID),
		booking.ServiceType,
		booking.VehicleType,
		booking.Status,
		booking.Flow,
		booking.EstimatedFare,
		booking.NegotiatedFare,
		booking.ServiceCharge,
		booking.WaitingCharge,
		booking.TotalFare,
		details,
		history,
		booking.CreatedAt,
		booking.UpdatedAt,
	)

	return err
}

// FindByID retrieves a booking by ID.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `
		SELECT id, requester_id, assigned_driver_id, service_type, vehicle_type, status, flow,
			estimated_fare, negotiated_fare, service_charge, waiting_charge, total_fare, details, history, created_at, updated_at
		FROM bookings WHERE id = $1
	`

	var booking domain.Booking
	var assignedDriverID sql.NullString
	var details, history []byte

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&booking.ID,
		&booking.RequesterID,
		&assignedDriverID,
		&booking.ServiceType,
		&booking.VehicleType,
		&booking.Status,
		&booking.Flow,
		&booking.EstimatedFare,
		&booking.NegotiatedFare,
		&booking.ServiceCharge,
		&booking.WaitingCharge,
		&booking.TotalFare,
		&details,
		&history,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if assignedDriverID.Valid {
		booking.AssignedDriverID = assignedDriverID.String
	}

	var d bookingDetails
	if len(details) > 0 {
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, err
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &booking.History); err != nil {
			return nil, err
		}
	}

	booking.Preference = d.Preference
	booking.Pickup = d.Pickup
	booking.Destination = d.Destination
	booking.Candidates = d.Candidates
	booking.RejectedBy = d.RejectedBy
	booking.Offers = d.Offers
	booking.DriverOrigin = d.DriverOrigin
	booking.DriverLast = d.DriverLast
	booking.InitialDistanceKm = d.InitialDistanceKm
	booking.RemainingDistanceKm = d.RemainingDistanceKm
	booking.Waiting = d.Waiting
	booking.Cancellation = d.Cancellation
	booking.Messages = d.Messages
	booking.AssignedAt = d.AssignedAt
	booking.AcceptedAt = d.AcceptedAt
	booking.ArrivedAt = d.ArrivedAt
	booking.StartedAt = d.StartedAt
	booking.CompletedAt = d.CompletedAt
	booking.CancelledAt = d.CancelledAt

	return &booking, nil
}

// Save upserts the full booking record.
func (r *BookingRepository) Save(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (id, requester_id, assigned_driver_id, service_type, vehicle_type, status, flow,
			estimated_fare, negotiated_fare, service_charge, waiting_charge, total_fare, details, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			assigned_driver_id = EXCLUDED.assigned_driver_id,
			status = EXCLUDED.status,
			flow = EXCLUDED.flow,
			estimated_fare = EXCLUDED.estimated_fare,
			negotiated_fare = EXCLUDED.negotiated_fare,
			service_charge = EXCLUDED.service_charge,
			waiting_charge = EXCLUDED.waiting_charge,
			total_fare = EXCLUDED.total_fare,
			details = EXCLUDED.details,
			history = EXCLUDED.history,
			updated_at = EXCLUDED.updated_at
	`

	details, history, err := encodeBooking(booking)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query,
		booking.ID,
		booking.RequesterID,
		nullString(booking.AssignedDriverID),
		booking.ServiceType,
		booking.VehicleType,
		booking.Status,
		booking.Flow,
		booking.EstimatedFare,
		booking.NegotiatedFare,
		booking.ServiceCharge,
		booking.WaitingCharge,
		booking.TotalFare,
		details,
		history,
		booking.CreatedAt,
		booking.UpdatedAt,
	)

	return err
}
