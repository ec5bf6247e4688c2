package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"recovery/internal/domain"
	"recovery/internal/redis"
	"recovery/internal/repository"
)

const (
	defaultPendingTTL      = 5 * time.Minute
	defaultWaitingTick     = time.Minute
	defaultAverageSpeedKmh = 40.0
	defaultDriverLockTTL   = 30 * time.Second
)

// BookingConfig tunes the dispatch state machine.
type BookingConfig struct {
	// PendingTTL bounds how long a booking may wait for a driver to accept.
	PendingTTL time.Duration
	// WaitingTick is the period of live waiting-charge pushes.
	WaitingTick     time.Duration
	AverageSpeedKmh float64
	DriverLockTTL   time.Duration
}

// BookingDeps are the collaborators of the BookingService.
type BookingDeps struct {
	Bookings repository.BookingRepository
	Pricing  repository.PricingRepository
	Finder   CandidateFinder
	Drivers  *DriverService
	Locks    redis.LockStoreInterface // Optional
	Notifier *Notifier
}

// BookingOption customises a BookingService.
type BookingOption func(*BookingService)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) BookingOption {
	return func(s *BookingService) {
		s.now = now
	}
}

// activeBooking is one in-flight booking. Its mutex serialises every
// operation on the booking; booking is replaced, never mutated, once committed.
type activeBooking struct {
	mu          sync.Mutex
	booking     *domain.Booking
	acceptance  *Acceptance
	expiry      *time.Timer
	stopWaiting chan struct{}
	closed      bool
}

// BookingService drives bookings from request to a terminal status.
type BookingService struct {
	bookings repository.BookingRepository
	pricing  repository.PricingRepository
	finder   CandidateFinder
	drivers  *DriverService
	locks    redis.LockStoreInterface
	notifier *Notifier
	cfg      BookingConfig
	now      func() time.Time
	logTags  log.Fields

	mu     sync.Mutex
	active map[string]*activeBooking
}

// NewBookingService creates a new BookingService.
func NewBookingService(deps BookingDeps, cfg BookingConfig, opts ...BookingOption) *BookingService {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaultPendingTTL
	}
	if cfg.WaitingTick <= 0 {
		cfg.WaitingTick = defaultWaitingTick
	}
	if cfg.AverageSpeedKmh <= 0 {
		cfg.AverageSpeedKmh = defaultAverageSpeedKmh
	}
	if cfg.DriverLockTTL <= 0 {
		cfg.DriverLockTTL = defaultDriverLockTTL
	}

	s := &BookingService{
		bookings: deps.Bookings,
		pricing:  deps.Pricing,
		finder:   deps.Finder,
		drivers:  deps.Drivers,
		locks:    deps.Locks,
		notifier: deps.Notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logTags:  log.Fields{"module": "service", "component": "booking"},
		active:   make(map[string]*activeBooking),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest contains the parameters for creating a booking.
type CreateRequest struct {
	RequesterID   string
	ServiceType   string
	VehicleType   string
	Pickup        *domain.Location
	Destination   *domain.Location
	Preference    domain.DriverPreference
	EstimatedFare float64
	RadiusKm      float64
}

// CreateResult is returned to the requester once matching ran.
type CreateResult struct {
	BookingID        string               `json:"bookingId"`
	Status           domain.BookingStatus `json:"status"`
	Flow             domain.DispatchFlow  `json:"flow"`
	Message          string               `json:"message"`
	AssignedDriverID string               `json:"assignedDriverId,omitempty"`
	Candidates       []Candidate          `json:"candidates"`
	Notified         []string             `json:"notified,omitempty"`
	Booking          *domain.Booking      `json:"booking"`
}

// UnavailableError reports a booking that failed for lack of drivers.
type UnavailableError struct {
	BookingID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no driver available for booking %s", e.BookingID)
}

func (e *UnavailableError) Unwrap() error {
	return ErrNoDriverAvailable
}

func validateCreate(req CreateRequest) error {
	if req.RequesterID == "" {
		return invalidField("requesterId", "is required")
	}
	if req.Pickup == nil {
		return invalidField("pickupLocation", "is required")
	}
	if !validLocation(req.Pickup) {
		return invalidField("pickupLocation", "has invalid coordinates")
	}
	if req.ServiceType == "" {
		return invalidField("serviceType", "is required")
	}
	if req.Destination != nil && !validLocation(req.Destination) {
		return invalidField("destination", "has invalid coordinates")
	}
	if req.EstimatedFare < 0 {
		return invalidField("estimatedFare", "must not be negative")
	}

	switch req.Preference.Mode {
	case domain.PreferenceNearby, domain.PreferenceFavorite, domain.PreferencePinkCaptain:
	case domain.PreferencePinned:
		if req.Preference.PinnedDriverID == "" {
			return invalidField("driverPreference.pinnedDriverId", "is required")
		}
	default:
		return invalidField("driverPreference.mode", "is not supported")
	}
	return nil
}

// Create opens a booking and runs the match: direct flows address the
// nearest candidate, broadcast flows offer the booking to every candidate.
func (s *BookingService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Preference.Mode == "" {
		req.Preference.Mode = domain.PreferenceNearby
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	serviceCharge, err := s.serviceCharge(ctx, req.ServiceType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	b := &domain.Booking{
		ID:            uuid.New().String(),
		RequesterID:   req.RequesterID,
		ServiceType:   req.ServiceType,
		VehicleType:   req.VehicleType,
		Flow:          req.Preference.Mode.Flow(),
		Preference:    req.Preference,
		Pickup:        *req.Pickup,
		Destination:   req.Destination,
		EstimatedFare: req.EstimatedFare,
		ServiceCharge: serviceCharge,
		CreatedAt:     now,
	}
	b.Transition(domain.BookingStatusPending, req.RequesterID, "created", now)

	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	entry := &activeBooking{booking: b}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.Lock()
	s.active[b.ID] = entry
	s.mu.Unlock()

	tags := log.Fields{"booking": b.ID, "requester": b.RequesterID, "mode": b.Preference.Mode}
	log.WithFields(s.logTags).WithFields(tags).Info("Booking created")

	s.notifier.NotifyCreated(b)

	candidates, err := s.finder.FindCandidates(ctx, b.Pickup, CandidateFilter{
		RequesterID: b.RequesterID,
		VehicleType: b.VehicleType,
		RadiusKm:    req.RadiusKm,
		Preference:  b.Preference,
	})
	if err != nil {
		log.WithError(err).WithFields(s.logTags).WithFields(tags).Error("Matching failed")
		s.fail(ctx, entry, "matching unavailable", false)
		return nil, fmt.Errorf("find candidates for %s: %w", b.ID, err)
	}
	if len(candidates) == 0 {
		s.fail(ctx, entry, "no driver available", false)
		return nil, &UnavailableError{BookingID: b.ID}
	}

	next := b.Clone()
	next.Candidates = make([]string, len(candidates))
	distances := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		next.Candidates[i] = c.DriverID
		distances[c.DriverID] = c.DistanceKm
	}

	result := &CreateResult{
		BookingID:  next.ID,
		Flow:       next.Flow,
		Message:    "looking for drivers",
		Candidates: candidates,
	}

	switch next.Flow {
	case domain.DispatchFlowDirect:
		driverID, ok := s.assignNext(ctx, next, next.RequesterID, "assigned nearest candidate")
		if !ok {
			s.fail(ctx, entry, "no driver available", false)
			return nil, &UnavailableError{BookingID: b.ID}
		}
		if err := s.commit(ctx, entry, next); err != nil {
			s.releaseLock(ctx, next.ID, driverID)
			s.fail(ctx, entry, "booking could not be saved", false)
			return nil, err
		}
		s.notifier.NotifyAssignment(next, distances[driverID])
		result.AssignedDriverID = driverID

	default:
		if err := s.commit(ctx, entry, next); err != nil {
			s.fail(ctx, entry, "booking could not be saved", false)
			return nil, err
		}
		result.Notified = s.notifier.BroadcastRequest(next, candidates)
	}

	s.armExpiry(entry)

	result.Status = next.Status
	result.Booking = next.Clone()
	return result, nil
}

// AcceptRequest contains the parameters for a driver accepting a booking.
type AcceptRequest struct {
	BookingID string
	DriverID  string
	// OfferID optionally accepts the requester's counter on a fare offer.
	OfferID string
}

// Acceptance is shared with the requester once a driver accepted.
type Acceptance struct {
	BookingID      string               `json:"bookingId"`
	Status         domain.BookingStatus `json:"status"`
	Driver         DriverSummary        `json:"driver"`
	DriverLocation *domain.Location     `json:"driverLocation,omitempty"`
	DistanceKm     float64              `json:"distanceKm"`
	ETAMinutes     int                  `json:"etaMinutes"`
	Fare           float64              `json:"fare"`
	AcceptedAt     time.Time            `json:"acceptedAt"`
}

// Accept assigns the booking to the accepting driver. Re-accepting by the
// same driver returns the original acceptance without a new transition.
func (s *BookingService) Accept(ctx context.Context, req AcceptRequest) (*Acceptance, error) {
	if req.DriverID == "" {
		return nil, invalidField("driverId", "is required")
	}

	entry, err := s.acquire(ctx, req.BookingID, "accept booking")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if b.Status == domain.BookingStatusAccepted && b.AssignedDriverID == req.DriverID && entry.acceptance != nil {
		acceptance := *entry.acceptance
		return &acceptance, nil
	}
	if b.AssignedDriverID != "" && b.AssignedDriverID != req.DriverID {
		return nil, ErrNotAuthorized
	}
	if err := requireStatus("accept booking", b, domain.BookingStatusPending, domain.BookingStatusDriverAssigned); err != nil {
		return nil, err
	}
	if b.AssignedDriverID == "" && (!contains(b.Candidates, req.DriverID) || b.HasRejected(req.DriverID)) {
		return nil, ErrNotAuthorized
	}

	negotiated := b.NegotiatedFare
	if req.OfferID != "" {
		offer, ok := b.FindOffer(req.OfferID)
		if !ok || offer.DriverID != req.DriverID {
			return nil, ErrOfferNotFound
		}
		negotiated = offer.Amount
		if offer.CounterAmount > 0 {
			negotiated = offer.CounterAmount
		}
	}

	driver, err := s.drivers.Get(ctx, req.DriverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("load driver %s: %w", req.DriverID, err)
	}

	// An assigned driver re-confirms the reservation, which may have lapsed
	// and been taken by another booking.
	lockedHere := b.AssignedDriverID == ""
	if !s.lockDriver(ctx, b.ID, req.DriverID, s.cfg.DriverLockTTL) {
		return nil, fmt.Errorf("driver reserved by another booking: %w", ErrNotAuthorized)
	}

	pos, err := s.drivers.Position(ctx, req.DriverID)
	if err != nil {
		log.WithError(err).WithFields(s.logTags).WithField("driver", req.DriverID).Warn("Driver position unavailable")
	}

	now := s.now()
	next := b.Clone()
	next.AssignedDriverID = req.DriverID
	next.NegotiatedFare = negotiated
	if next.AssignedAt.IsZero() {
		next.AssignedAt = now
	}
	next.AcceptedAt = now
	if pos != nil {
		origin := *pos
		last := *pos
		next.DriverOrigin = &origin
		next.DriverLast = &last
		next.InitialDistanceKm = DistanceKm(*pos, next.Pickup)
		next.RemainingDistanceKm = next.InitialDistanceKm
	}
	next.Transition(domain.BookingStatusAccepted, req.DriverID, "", now)

	if err := s.commit(ctx, entry, next); err != nil {
		if lockedHere {
			s.releaseLock(ctx, b.ID, req.DriverID)
		}
		return nil, err
	}
	s.disarmExpiry(entry)

	acceptance := Acceptance{
		BookingID: next.ID,
		Status:    next.Status,
		Driver: DriverSummary{
			ID:          driver.ID,
			Name:        driver.Name,
			Phone:       driver.Phone,
			VehicleType: driver.VehicleType,
			PlateNumber: driver.PlateNumber,
		},
		DriverLocation: next.DriverOrigin,
		DistanceKm:     next.InitialDistanceKm,
		ETAMinutes:     ETAMinutes(EstimateETA(next.InitialDistanceKm, s.cfg.AverageSpeedKmh)),
		Fare:           fareBasis(next),
		AcceptedAt:     now,
	}
	entry.acceptance = &acceptance

	s.drivers.SetStatus(ctx, req.DriverID, domain.DriverStatusOnTrip)
	s.releaseLock(ctx, next.ID, req.DriverID)

	log.WithFields(s.logTags).WithFields(log.Fields{
		"booking": next.ID, "driver": req.DriverID,
	}).Info("Booking accepted")

	s.notifier.NotifyAccepted(next, acceptance)
	if next.Flow == domain.DispatchFlowBroadcast {
		s.notifier.NotifyTaken(next, next.Candidates)
	}

	result := acceptance
	return &result, nil
}

// RejectRequest contains the parameters for a driver declining a booking.
type RejectRequest struct {
	BookingID string
	DriverID  string
	Reason    string
}

// Reject records a driver declining the booking. A declined assignment falls
// through to the next candidate; the booking fails once none is left.
func (s *BookingService) Reject(ctx context.Context, req RejectRequest) (*StatusUpdate, error) {
	if req.DriverID == "" {
		return nil, invalidField("driverId", "is required")
	}

	entry, err := s.acquire(ctx, req.BookingID, "reject booking")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if err := requireStatus("reject booking", b, domain.BookingStatusPending, domain.BookingStatusDriverAssigned); err != nil {
		return nil, err
	}

	next := b.Clone()
	now := s.now()
	reassigned := ""

	switch {
	case b.AssignedDriverID != "":
		if b.AssignedDriverID != req.DriverID {
			return nil, ErrNotAuthorized
		}
		next.RejectedBy = append(next.RejectedBy, req.DriverID)
		next.AssignedDriverID = ""
		next.NegotiatedFare = 0
		driverID, ok := s.assignNext(ctx, next, req.DriverID, "reassigned after rejection")
		if ok {
			reassigned = driverID
		} else {
			next.Transition(domain.BookingStatusFailed, req.DriverID, "no driver available", now)
		}

	default:
		if !contains(b.Candidates, req.DriverID) || b.HasRejected(req.DriverID) {
			return nil, ErrNotAuthorized
		}
		next.RejectedBy = append(next.RejectedBy, req.DriverID)
		if len(remaining(next)) == 0 {
			next.Transition(domain.BookingStatusFailed, req.DriverID, "every candidate declined", now)
		} else {
			next.UpdatedAt = now
		}
	}

	if err := s.commit(ctx, entry, next); err != nil {
		if reassigned != "" {
			s.releaseLock(ctx, next.ID, reassigned)
		}
		return nil, err
	}
	s.releaseLock(ctx, next.ID, req.DriverID)

	log.WithFields(s.logTags).WithFields(log.Fields{
		"booking": next.ID, "driver": req.DriverID, "reason": req.Reason, "status": next.Status,
	}).Info("Booking rejected")

	switch {
	case next.Status == domain.BookingStatusFailed:
		s.notifier.NotifyFailed(next, "no driver available")
		s.finish(ctx, entry)
	case reassigned != "":
		s.notifier.NotifyAssignment(next, 0)
	}

	return &StatusUpdate{BookingID: next.ID, Status: next.Status, ActorID: req.DriverID}, nil
}

// OfferRequest contains a driver's fare bid.
type OfferRequest struct {
	BookingID string
	DriverID  string
	Amount    float64
}

// FareUpdate carries a fare offer between the parties.
type FareUpdate struct {
	BookingID string           `json:"bookingId"`
	Offer     domain.FareOffer `json:"offer"`
}

// Offer records a driver's fare bid on an open broadcast booking.
func (s *BookingService) Offer(ctx context.Context, req OfferRequest) (*FareUpdate, error) {
	if req.DriverID == "" {
		return nil, invalidField("driverId", "is required")
	}
	if req.Amount <= 0 {
		return nil, invalidField("amount", "must be positive")
	}

	entry, err := s.acquire(ctx, req.BookingID, "offer fare")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if err := requireStatus("offer fare", b, domain.BookingStatusPending); err != nil {
		return nil, err
	}
	if !contains(b.Candidates, req.DriverID) || b.HasRejected(req.DriverID) {
		return nil, ErrNotAuthorized
	}

	now := s.now()
	offer := domain.FareOffer{
		ID:        uuid.New().String(),
		DriverID:  req.DriverID,
		Amount:    req.Amount,
		OfferedAt: now,
	}
	next := b.Clone()
	next.Offers = append(next.Offers, offer)
	next.UpdatedAt = now

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}

	s.notifier.NotifyFareOffered(next, offer)
	return &FareUpdate{BookingID: next.ID, Offer: offer}, nil
}

// CounterRequest contains the requester's counter to a fare offer.
type CounterRequest struct {
	BookingID   string
	RequesterID string
	OfferID     string
	Amount      float64
}

// Counter records the requester's counter amount on a driver's offer.
func (s *BookingService) Counter(ctx context.Context, req CounterRequest) (*FareUpdate, error) {
	if req.OfferID == "" {
		return nil, invalidField("offerId", "is required")
	}
	if req.Amount <= 0 {
		return nil, invalidField("amount", "must be positive")
	}

	entry, err := s.acquire(ctx, req.BookingID, "counter fare")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if b.RequesterID != req.RequesterID {
		return nil, ErrNotAuthorized
	}
	if err := requireStatus("counter fare", b, domain.BookingStatusPending); err != nil {
		return nil, err
	}

	next := b.Clone()
	offer, ok := next.FindOffer(req.OfferID)
	if !ok {
		return nil, ErrOfferNotFound
	}
	now := s.now()
	offer.CounterAmount = req.Amount
	offer.CounteredAt = now
	next.UpdatedAt = now

	if err := s.commit(ctx, entry, next); err != nil {
		return nil, err
	}

	s.notifier.NotifyFareCountered(next, *offer)
	return &FareUpdate{BookingID: next.ID, Offer: *offer}, nil
}

// FareAcceptRequest contains the requester's choice of offer.
type FareAcceptRequest struct {
	BookingID   string
	RequesterID string
	OfferID     string
}

// AcceptFare assigns the booking to the bidding driver at the offered fare.
// The driver still confirms with Accept.
func (s *BookingService) AcceptFare(ctx context.Context, req FareAcceptRequest) (*StatusUpdate, error) {
	if req.OfferID == "" {
		return nil, invalidField("offerId", "is required")
	}

	entry, err := s.acquire(ctx, req.BookingID, "accept fare")
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	b := entry.booking

	if b.RequesterID != req.RequesterID {
		return nil, ErrNotAuthorized
	}
	if err := requireStatus("accept fare", b, domain.BookingStatusPending); err != nil {
		return nil, err
	}
	offer, ok := b.FindOffer(req.OfferID)
	if !ok {
		return nil, ErrOfferNotFound
	}
	if b.HasRejected(offer.DriverID) {
		return nil, &UnavailableError{BookingID: b.ID}
	}
	if !s.lockDriver(ctx, b.ID, offer.DriverID, s.reservationTTL()) {
		return nil, &UnavailableError{BookingID: b.ID}
	}

	now := s.now()
	next := b.Clone()
	next.AssignedDriverID = offer.DriverID
	next.NegotiatedFare = offer.Amount
	next.AssignedAt = now
	next.Transition(domain.BookingStatusDriverAssigned, req.RequesterID, "fare accepted", now)

	if err := s.commit(ctx, entry, next); err != nil {
		s.releaseLock(ctx, b.ID, offer.DriverID)
		return nil, err
	}

	s.notifier.NotifyAssignment(next, 0)
	return &StatusUpdate{BookingID: next.ID, Status: next.Status, ActorID: req.RequesterID}, nil
}

// Get returns a snapshot of the booking, live or stored.
func (s *BookingService) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, invalidField("bookingId", "is required")
	}

	s.mu.Lock()
	entry, ok := s.active[bookingID]
	s.mu.Unlock()
	if ok {
		entry.mu.Lock()
		snapshot := entry.booking.Clone()
		entry.mu.Unlock()
		return snapshot, nil
	}

	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("find booking %s: %w", bookingID, err)
	}
	return b, nil
}

// ActiveCount returns the number of in-flight bookings.
func (s *BookingService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown stops every booking timer.
func (s *BookingService) Shutdown() {
	s.mu.Lock()
	entries := make([]*activeBooking, 0, len(s.active))
	for _, e := range s.active {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		s.disarmExpiry(e)
		s.stopWaitingTicker(e)
		e.mu.Unlock()
	}
}

// acquire returns the locked live entry for bookingID.
func (s *BookingService) acquire(ctx context.Context, bookingID, op string) (*activeBooking, error) {
	if bookingID == "" {
		return nil, invalidField("bookingId", "is required")
	}

	s.mu.Lock()
	entry, ok := s.active[bookingID]
	s.mu.Unlock()

	if ok {
		entry.mu.Lock()
		if !entry.closed {
			return entry, nil
		}
		entry.mu.Unlock()
	}
	return nil, s.inactiveError(ctx, bookingID, op)
}

// inactiveError explains why a booking is not live: unknown, or already terminal.
func (s *BookingService) inactiveError(ctx context.Context, bookingID, op string) error {
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrBookingNotFound
		}
		return fmt.Errorf("find booking %s: %w", bookingID, err)
	}
	if b.Status.IsTerminal() {
		return &StateError{Op: op, Expected: liveStatuses, Current: b.Status}
	}
	return ErrBookingNotFound
}

var liveStatuses = []domain.BookingStatus{
	domain.BookingStatusPending,
	domain.BookingStatusDriverAssigned,
	domain.BookingStatusAccepted,
	domain.BookingStatusDriverArrived,
	domain.BookingStatusInProgress,
}

// commit persists next and only then makes it the live record.
func (s *BookingService) commit(ctx context.Context, entry *activeBooking, next *domain.Booking) error {
	if err := s.bookings.Save(ctx, next); err != nil {
		log.WithError(err).WithFields(s.logTags).WithFields(log.Fields{
			"booking": next.ID, "status": next.Status,
		}).Error("Failed to save booking")
		return fmt.Errorf("save booking %s: %w", next.ID, err)
	}
	entry.booking = next
	return nil
}

// fail moves the live booking to failed and retires it.
func (s *BookingService) fail(ctx context.Context, entry *activeBooking, reason string, notify bool) {
	next := entry.booking.Clone()
	next.Transition(domain.BookingStatusFailed, "", reason, s.now())
	if err := s.commit(ctx, entry, next); err != nil {
		entry.booking = next
	}
	if notify {
		s.notifier.NotifyFailed(next, reason)
	}
	s.finish(ctx, entry)
}

// finish retires a booking that reached a terminal status. Caller holds entry.mu.
func (s *BookingService) finish(ctx context.Context, entry *activeBooking) {
	b := entry.booking
	entry.closed = true
	s.disarmExpiry(entry)
	s.stopWaitingTicker(entry)

	s.mu.Lock()
	delete(s.active, b.ID)
	s.mu.Unlock()

	s.notifier.CloseRoom(b)
	if b.AssignedDriverID != "" {
		s.releaseLock(ctx, b.ID, b.AssignedDriverID)
		if !b.AcceptedAt.IsZero() {
			s.drivers.SetStatus(ctx, b.AssignedDriverID, domain.DriverStatusOnline)
		}
	}

	log.WithFields(s.logTags).WithFields(log.Fields{
		"booking": b.ID, "status": b.Status,
	}).Info("Booking closed")
}

// assignNext addresses next to the first remaining candidate that can be reserved.
func (s *BookingService) assignNext(ctx context.Context, next *domain.Booking, actorID, note string) (string, bool) {
	for _, id := range remaining(next) {
		if !s.lockDriver(ctx, next.ID, id, s.reservationTTL()) {
			continue
		}
		now := s.now()
		next.AssignedDriverID = id
		next.AssignedAt = now
		next.Transition(domain.BookingStatusDriverAssigned, actorID, note, now)
		return id, true
	}
	return "", false
}

// remaining returns the candidates that have not declined, in order.
func remaining(b *domain.Booking) []string {
	out := make([]string, 0, len(b.Candidates))
	for _, id := range b.Candidates {
		if !b.HasRejected(id) {
			out = append(out, id)
		}
	}
	return out
}

// reservationTTL covers an assigned driver until the booking would expire.
func (s *BookingService) reservationTTL() time.Duration {
	return max(s.cfg.DriverLockTTL, s.cfg.PendingTTL)
}

func (s *BookingService) lockDriver(ctx context.Context, bookingID, driverID string, ttl time.Duration) bool {
	if s.locks == nil {
		return true
	}
	ok, err := s.locks.AcquireDriverLock(ctx, driverID, bookingID, ttl)
	if err != nil {
		log.WithError(err).WithFields(s.logTags).WithFields(log.Fields{
			"booking": bookingID, "driver": driverID,
		}).Warn("Driver lock unavailable")
		return false
	}
	return ok
}

func (s *BookingService) releaseLock(ctx context.Context, bookingID, driverID string) {
	if s.locks == nil || driverID == "" {
		return
	}
	if err := s.locks.ReleaseDriverLock(ctx, driverID, bookingID); err != nil {
		log.WithError(err).WithFields(s.logTags).WithField("driver", driverID).Debug("Failed to release driver lock")
	}
}

// armExpiry starts the pending timer of a new booking. Caller holds entry.mu.
func (s *BookingService) armExpiry(entry *activeBooking) {
	id := entry.booking.ID
	entry.expiry = time.AfterFunc(s.cfg.PendingTTL, func() {
		s.expire(context.Background(), id)
	})
}

func (s *BookingService) disarmExpiry(entry *activeBooking) {
	if entry.expiry != nil {
		entry.expiry.Stop()
		entry.expiry = nil
	}
}

// expire retires a booking no driver accepted in time.
func (s *BookingService) expire(ctx context.Context, bookingID string) {
	s.mu.Lock()
	entry, ok := s.active[bookingID]
	s.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	b := entry.booking
	if entry.closed || (b.Status != domain.BookingStatusPending && b.Status != domain.BookingStatusDriverAssigned) {
		return
	}

	next := b.Clone()
	next.Transition(domain.BookingStatusExpired, "", "no driver accepted in time", s.now())
	if err := s.commit(ctx, entry, next); err != nil {
		entry.booking = next
	}

	log.WithFields(s.logTags).WithField("booking", bookingID).Info("Booking expired")
	s.notifier.NotifyExpired(next)
	s.finish(ctx, entry)
}

func (s *BookingService) serviceCharge(ctx context.Context, serviceType string) (float64, error) {
	charge, err := s.pricing.GetServiceCharge(ctx, serviceType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.WithFields(s.logTags).WithField("service_type", serviceType).Warn("No pricing configured, base charge is zero")
			return 0, nil
		}
		return 0, fmt.Errorf("load service charge: %w", err)
	}
	return charge, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
