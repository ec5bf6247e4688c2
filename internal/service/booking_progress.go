package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"recovery/internal/domain"
	"recovery/internal/repository"
)

// LocationRequest contains a driver position report.
type LocationRequest struct {
	BookingID string // Optional: empty only refreshes the geo index
	DriverID  string
	Location  *domain.Location
}

// LocationUpdate is the position and ETA pushed to the requester.
type LocationUpdate struct {
	BookingID  string          `json:"bookingId"`
	DriverID   string          `json:"driverId"`
	Location   domain.Location `json:"location"`
	Target     string          `json:"target"`
	DistanceKm float64         `json:"distanceKm"`
	ETAMinutes int             `json:"etaMinutes"`
	At         time.Time       `json:"at"`
}

// UpdateLocation indexes the driver's position and, for an active booking,
// recomputes the straight-line ETA to the next stop.
func (s *BookingService) UpdateLocation(ctx context.Context, req LocationRequest) (*LocationUpdate, error) {
	if req.DriverID == "" {
		return nil, invalidField("driverId", "is required")
	}
	if req.Location == nil || !validLocation(req.Location) {
		return nil, invalidField("location", "has invalid coordinates")
	}

	if err := s.drivers.UpdateLocation(ctx, req.DriverID, *req.Location); err != nil {
		return nil, fmt.Errorf("index driver location: %w", err)
	}
	if req.BookingID == "" {
		return &LocationUpdate{DriverID: req.DriverID, Location: *req.Location, At: s.now()}, nil
	}

	entry, err := s.acquire(ctx, req.BookingID, "update location")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if b.AssignedDriverID != req.DriverID {
		return nil, ErrNotAuthorized
	}
	if err := requireStatus("update location", b, domain.BookingStatusAccepted, domain.BookingStatusDriverArrived, domain.BookingStatusInProgress); err != nil {
		return nil, err
	}

	loc := *req.Location
	next := b.Clone()
	next.DriverLast = &loc

	update := LocationUpdate{
		BookingID: next.ID,
		DriverID:  req.DriverID,
		Location:  loc,
		Target:    "pickup",
		At:        s.now(),
	}
	switch {
	case next.Status == domain.BookingStatusInProgress && next.Destination != nil:
		update.Target = "destination"
		update.DistanceKm = DistanceKm(loc, *next.Destination)
	case next.Status == domain.BookingStatusAccepted:
		next.RemainingDistanceKm = DistanceKm(loc, next.Pickup)
		update.DistanceKm = next.RemainingDistanceKm
	}
	update.ETAMinutes = ETAMinutes(EstimateETA(update.DistanceKm, s.cfg.AverageSpeedKmh))

	// Position reports are not persisted; the next committed transition carries them.
	entry.booking = next

	s.notifier.PublishLocation(next, update)
	return &update, nil
}

// TransitionRequest identifies the actor of a status-only transition.
type TransitionRequest struct {
	BookingID string
	ActorID   string
}

// ArrivalUpdate tells the requester the driver arrived and how waiting is billed.
type ArrivalUpdate struct {
	BookingID string               `json:"bookingId"`
	Status    domain.BookingStatus `json:"status"`
	ArrivedAt time.Time            `json:"arrivedAt"`
	Waiting   *domain.WaitingTimer `json:"waiting,omitempty"`
}

// Arrive marks the driver at pickup and starts the waiting timer.
func (s *BookingService) Arrive(ctx context.Context, req TransitionRequest) (*ArrivalUpdate, error) {
	entry, err := s.acquireAssigned(ctx, req, "mark arrival")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if err := requireStatus("mark arrival", b, domain.BookingStatusAccepted); err != nil {
		return nil, err
	}

	cfg, err := s.waitingConfig(ctx, b.ServiceType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := b.Clone()
	next.ArrivedAt = now
	next.RemainingDistanceKm = 0
	next.Waiting = &domain.WaitingTimer{
		StartedAt:     now,
		FreeMinutes:   cfg.FreeMinutes,
		PerMinuteRate: cfg.PerMinuteRate,
		MaxCharge:     cfg.MaxCharge,
	}
	next.Transition(domain.BookingStatusDriverArrived, req.ActorID, "", now)

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}
	s.startWaitingTicker(entry)

	s.notifier.NotifyArrived(next)

	w := *next.Waiting
	return &ArrivalUpdate{BookingID: next.ID, Status: next.Status, ArrivedAt: now, Waiting: &w}, nil
}

// WaitingUpdate evaluates the waiting charge now and relays it to the other party.
func (s *BookingService) WaitingUpdate(ctx context.Context, req TransitionRequest) (*WaitingQuote, error) {
	entry, err := s.acquire(ctx, req.BookingID, "update waiting time")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if !b.IsParticipant(req.ActorID) {
		return nil, ErrNotAuthorized
	}
	if err := requireStatus("update waiting time", b, domain.BookingStatusDriverArrived, domain.BookingStatusInProgress); err != nil {
		return nil, err
	}
	if b.Waiting == nil {
		return nil, &StateError{Op: "update waiting time", Expected: []domain.BookingStatus{domain.BookingStatusDriverArrived}, Current: b.Status}
	}

	quote := quoteWaiting(b.ID, b.Waiting, s.now())
	next := b.Clone()
	next.Waiting.AccruedCharge = quote.Charge
	next.WaitingCharge = quote.Charge
	entry.booking = next

	s.notifier.RelayWaiting(next, req.ActorID, quote)
	return &quote, nil
}

// Start stops the waiting timer, bills it and moves the booking in progress.
func (s *BookingService) Start(ctx context.Context, req TransitionRequest) (*Bill, error) {
	entry, err := s.acquireAssigned(ctx, req, "start service")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if err := requireStatus("start service", b, domain.BookingStatusDriverArrived); err != nil {
		return nil, err
	}

	now := s.now()
	next := b.Clone()
	if next.Waiting != nil {
		next.Waiting.StoppedAt = now
		quote := quoteWaiting(next.ID, next.Waiting, now)
		next.Waiting.AccruedCharge = quote.Charge
		next.WaitingCharge = quote.Charge
	}
	next.StartedAt = now
	next.Transition(domain.BookingStatusInProgress, req.ActorID, "", now)
	bill := billBooking(next, false)

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}
	s.stopWaitingTicker(entry)

	s.notifier.NotifyStarted(next, bill)
	return &bill, nil
}

// Completion is the final bill with its printable receipt.
type Completion struct {
	Bill
	Receipt string `json:"receipt"`
}

// Complete closes the service and issues the final bill.
func (s *BookingService) Complete(ctx context.Context, req TransitionRequest) (*Bill, error) {
	entry, err := s.acquireAssigned(ctx, req, "complete service")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if err := requireStatus("complete service", b, domain.BookingStatusInProgress); err != nil {
		return nil, err
	}

	now := s.now()
	next := b.Clone()
	next.CompletedAt = now
	next.Transition(domain.BookingStatusCompleted, req.ActorID, "", now)
	bill := billBooking(next, true)

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}

	log.WithFields(s.logTags).WithFields(log.Fields{
		"booking": next.ID, "total": bill.Total,
	}).Info("Booking completed")

	s.notifier.NotifyCompleted(next, bill)
	s.finish(ctx, entry)
	return &bill, nil
}

// CancelRequest contains the parameters for cancelling a booking.
type CancelRequest struct {
	BookingID string
	ActorID   string
	Reason    string
}

// CancellationUpdate describes a cancellation to the other party.
type CancellationUpdate struct {
	BookingID   string                  `json:"bookingId"`
	Status      domain.BookingStatus    `json:"status"`
	CancelledBy string                  `json:"cancelledBy"`
	Role        domain.Role             `json:"role"`
	Reason      string                  `json:"reason,omitempty"`
	Tier        domain.CancellationTier `json:"tier,omitempty"`
	Fee         float64                 `json:"fee"`
}

// Cancel ends the booking on behalf of the requester or the assigned driver.
// The requester pays the fee of the tier the driver's progress falls in.
func (s *BookingService) Cancel(ctx context.Context, req CancelRequest) (*CancellationUpdate, error) {
	entry, err := s.acquire(ctx, req.BookingID, "cancel booking")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if !b.IsParticipant(req.ActorID) {
		return nil, ErrNotAuthorized
	}
	if b.Status.IsTerminal() {
		return nil, &StateError{Op: "cancel booking", Expected: liveStatuses, Current: b.Status}
	}

	role := domain.RoleDriver
	if req.ActorID == b.RequesterID {
		role = domain.RoleRider
	}

	now := s.now()
	cancellation := domain.Cancellation{
		CancelledBy: req.ActorID,
		Role:        role,
		Reason:      req.Reason,
		At:          now,
	}
	if b.AssignedDriverID != "" {
		policy, err := s.cancellationPolicy(ctx, b.ServiceType)
		if err != nil {
			return nil, err
		}
		arrived := b.Status == domain.BookingStatusDriverArrived || b.Status == domain.BookingStatusInProgress
		cancellation.Tier = ClassifyTier(Progress(b.InitialDistanceKm, b.RemainingDistanceKm), arrived, policy)
		if role == domain.RoleRider {
			cancellation.Fee = CancellationFee(cancellation.Tier, policy)
		}
	}

	next := b.Clone()
	next.Cancellation = &cancellation
	next.CancelledAt = now
	next.Transition(domain.BookingStatusCancelled, req.ActorID, req.Reason, now)

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}

	log.WithFields(s.logTags).WithFields(log.Fields{
		"booking": next.ID, "by": req.ActorID, "tier": cancellation.Tier, "fee": cancellation.Fee,
	}).Info("Booking cancelled")

	var withdrawn []string
	if next.AssignedDriverID == "" {
		withdrawn = remaining(next)
	}
	s.notifier.NotifyCancelled(next, withdrawn)
	s.finish(ctx, entry)

	return &CancellationUpdate{
		BookingID:   next.ID,
		Status:      next.Status,
		CancelledBy: req.ActorID,
		Role:        role,
		Reason:      req.Reason,
		Tier:        cancellation.Tier,
		Fee:         cancellation.Fee,
	}, nil
}

// MessageRequest contains an in-ride chat message.
type MessageRequest struct {
	BookingID     string
	SenderID      string
	Text          string
	Location      *domain.Location
	AttachmentURL string
}

// MessageUpdate carries a chat message to the other party.
type MessageUpdate struct {
	BookingID string         `json:"bookingId"`
	Message   domain.Message `json:"message"`
}

// SendMessage appends a chat message and relays it to the other party.
func (s *BookingService) SendMessage(ctx context.Context, req MessageRequest) (*domain.Message, error) {
	if req.Text == "" && req.AttachmentURL == "" && req.Location == nil {
		return nil, invalidField("text", "is required")
	}
	if req.Location != nil && !validLocation(req.Location) {
		return nil, invalidField("location", "has invalid coordinates")
	}

	entry, err := s.acquire(ctx, req.BookingID, "send message")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if !b.IsParticipant(req.SenderID) {
		return nil, ErrNotAuthorized
	}
	if b.AssignedDriverID == "" {
		return nil, &StateError{
			Op:       "send message",
			Expected: []domain.BookingStatus{domain.BookingStatusDriverAssigned, domain.BookingStatusAccepted, domain.BookingStatusDriverArrived, domain.BookingStatusInProgress},
			Current:  b.Status,
		}
	}

	role := domain.RoleDriver
	if req.SenderID == b.RequesterID {
		role = domain.RoleRider
	}

	now := s.now()
	msg := domain.Message{
		ID:            uuid.New().String(),
		SenderID:      req.SenderID,
		SenderRole:    role,
		Text:          req.Text,
		Location:      req.Location,
		AttachmentURL: req.AttachmentURL,
		SentAt:        now,
	}
	next := b.Clone()
	next.Messages = append(next.Messages, msg)
	next.UpdatedAt = now

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}

	s.notifier.RelayMessage(next, msg)
	return &msg, nil
}

// acquireAssigned returns the locked entry when the actor is its assigned driver.
func (s *BookingService) acquireAssigned(ctx context.Context, req TransitionRequest, op string) (*activeBooking, error) {
	if req.ActorID == "" {
		return nil, invalidField("driverId", "is required")
	}
	entry, err := s.acquire(ctx, req.BookingID, op)
	if err != nil {
		return nil, err
	}
	if entry.booking.AssignedDriverID != req.ActorID {
		entry.mu.Unlock()
		return nil, ErrNotAuthorized
	}
	return entry, nil
}

// startWaitingTicker pushes live waiting quotes until service starts. Caller holds entry.mu.
func (s *BookingService) startWaitingTicker(entry *activeBooking) {
	stop := make(chan struct{})
	entry.stopWaiting = stop

	go func() {
		ticker := time.NewTicker(s.cfg.WaitingTick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tickWaiting(entry)
			}
		}
	}()
}

func (s *BookingService) stopWaitingTicker(entry *activeBooking) {
	if entry.stopWaiting != nil {
		close(entry.stopWaiting)
		entry.stopWaiting = nil
	}
}

func (s *BookingService) tickWaiting(entry *activeBooking) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	b := entry.booking
	if entry.closed || b.Status != domain.BookingStatusDriverArrived || b.Waiting == nil {
		return
	}

	quote := quoteWaiting(b.ID, b.Waiting, s.now())
	next := b.Clone()
	next.Waiting.AccruedCharge = quote.Charge
	next.WaitingCharge = quote.Charge
	entry.booking = next

	s.notifier.NotifyWaiting(next, quote)
}

func (s *BookingService) waitingConfig(ctx context.Context, serviceType string) (domain.WaitingChargeConfig, error) {
	cfg, err := s.pricing.GetWaitingChargeConfig(ctx, serviceType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.WithFields(s.logTags).WithField("service_type", serviceType).Warn("No waiting charge configured")
			return domain.WaitingChargeConfig{}, nil
		}
		return domain.WaitingChargeConfig{}, fmt.Errorf("load waiting charge config: %w", err)
	}
	return *cfg, nil
}

func (s *BookingService) cancellationPolicy(ctx context.Context, serviceType string) (domain.CancellationPolicy, error) {
	policy, err := s.pricing.GetCancellationPolicy(ctx, serviceType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.WithFields(s.logTags).WithField("service_type", serviceType).Warn("No cancellation fees configured")
			return domain.DefaultCancellationPolicy(domain.CancellationFees{}), nil
		}
		return domain.CancellationPolicy{}, fmt.Errorf("load cancellation policy: %w", err)
	}
	return *policy, nil
}
