package domain

import "time"

// BookingStatus represents the current status of a dispatch request.
type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "pending"
	BookingStatusDriverAssigned BookingStatus = "driver_assigned"
	BookingStatusAccepted       BookingStatus = "accepted"
	BookingStatusDriverArrived  BookingStatus = "driver_arrived"
	BookingStatusInProgress     BookingStatus = "in_progress"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusCancelled      BookingStatus = "cancelled"
	BookingStatusFailed         BookingStatus = "failed"
	BookingStatusExpired        BookingStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusFailed, BookingStatusExpired:
		return true
	}
	return false
}

// DispatchFlow selects how a booking reaches drivers.
type DispatchFlow string

const (
	// DispatchFlowDirect addresses candidates one at a time, nearest first.
	DispatchFlowDirect DispatchFlow = "direct"
	// DispatchFlowBroadcast offers the booking to every eligible driver at once.
	DispatchFlowBroadcast DispatchFlow = "broadcast"
)

// Location is a geographic point with an optional human readable address.
type Location struct {
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
	Address string  `json:"address,omitempty"`
}

// DriverPreferenceMode is the requester's choice of how drivers are selected.
type DriverPreferenceMode string

const (
	PreferenceNearby      DriverPreferenceMode = "nearby"
	PreferencePinned      DriverPreferenceMode = "pinned"
	PreferenceFavorite    DriverPreferenceMode = "favorite"
	PreferencePinkCaptain DriverPreferenceMode = "pink_captain"
)

// Flow returns the dispatch flow used for the preference mode.
func (m DriverPreferenceMode) Flow() DispatchFlow {
	switch m {
	case PreferencePinned, PreferenceFavorite:
		return DispatchFlowDirect
	}
	return DispatchFlowBroadcast
}

// PinkCaptainOptions are the passenger-safety constraints a pink captain must accept.
type PinkCaptainOptions struct {
	FamilyRide      bool `json:"familyRide,omitempty"`
	NoMaleCompanion bool `json:"noMaleCompanion,omitempty"`
}

// DriverPreference describes how the requester wants drivers to be chosen.
type DriverPreference struct {
	Mode           DriverPreferenceMode `json:"mode"`
	PinnedDriverID string               `json:"pinnedDriverId,omitempty"`
	PinkCaptain    PinkCaptainOptions   `json:"pinkCaptain,omitempty"`
}

// StatusChange is one entry in a booking's append-only status history.
type StatusChange struct {
	Status  BookingStatus `json:"status"`
	At      time.Time     `json:"at"`
	ActorID string        `json:"actorId,omitempty"`
	Note    string        `json:"note,omitempty"`
}

// WaitingTimer tracks billable waiting time after the driver arrives.
type WaitingTimer struct {
	StartedAt     time.Time `json:"startedAt"`
	StoppedAt     time.Time `json:"stoppedAt,omitempty"`
	FreeMinutes   float64   `json:"freeMinutes"`
	PerMinuteRate float64   `json:"perMinuteRate"`
	MaxCharge     float64   `json:"maxCharge"`
	AccruedCharge float64   `json:"accruedCharge"`
}

// ElapsedMinutes returns the minutes waited up to now, or up to the stop time.
func (w *WaitingTimer) ElapsedMinutes(now time.Time) float64 {
	end := now
	if !w.StoppedAt.IsZero() {
		end = w.StoppedAt
	}
	if end.Before(w.StartedAt) {
		return 0
	}
	return end.Sub(w.StartedAt).Minutes()
}

// Message is a chat message exchanged during a booking.
type Message struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	SenderRole    Role      `json:"senderRole"`
	Text          string    `json:"text"`
	Location      *Location `json:"location,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	SentAt        time.Time `json:"sentAt"`
}

// FareOffer is a driver's bid on an open booking, possibly countered by the requester.
type FareOffer struct {
	ID            string    `json:"id"`
	DriverID      string    `json:"driverId"`
	Amount        float64   `json:"amount"`
	CounterAmount float64   `json:"counterAmount,omitempty"`
	OfferedAt     time.Time `json:"offeredAt"`
	CounteredAt   time.Time `json:"counteredAt,omitempty"`
}

// Cancellation records who cancelled a booking and what it cost.
type Cancellation struct {
	CancelledBy string           `json:"cancelledBy"`
	Role        Role             `json:"role"`
	Reason      string           `json:"reason,omitempty"`
	Tier        CancellationTier `json:"tier,omitempty"`
	Fee         float64          `json:"fee"`
	At          time.Time        `json:"at"`
}

// Booking is one in-flight recovery/booking transaction.
type Booking struct {
	ID               string           `json:"id"`
	RequesterID      string           `json:"requesterId"`
	AssignedDriverID string           `json:"assignedDriverId,omitempty"`
	ServiceType      string           `json:"serviceType"`
	VehicleType      string           `json:"vehicleType,omitempty"`
	Status           BookingStatus    `json:"status"`
	Flow             DispatchFlow     `json:"flow"`
	Preference       DriverPreference `json:"preference"`
	Pickup           Location         `json:"pickupLocation"`
	Destination      *Location        `json:"destination,omitempty"`

	// Candidates holds the remaining direct-assign candidates, nearest first.
	Candidates []string    `json:"-"`
	RejectedBy []string    `json:"rejectedBy,omitempty"`
	Offers     []FareOffer `json:"offers,omitempty"`

	EstimatedFare  float64 `json:"estimatedFare,omitempty"`
	NegotiatedFare float64 `json:"negotiatedFare,omitempty"`
	ServiceCharge  float64 `json:"serviceCharge"`
	WaitingCharge  float64 `json:"waitingCharge"`
	TotalFare      float64 `json:"totalFare"`

	// DriverOrigin is where the driver was when the booking was accepted.
	DriverOrigin        *Location `json:"driverOrigin,omitempty"`
	DriverLast          *Location `json:"driverLocation,omitempty"`
	InitialDistanceKm   float64   `json:"initialDistanceKm,omitempty"`
	RemainingDistanceKm float64   `json:"remainingDistanceKm,omitempty"`

	Waiting      *WaitingTimer  `json:"waiting,omitempty"`
	Cancellation *Cancellation  `json:"cancellation,omitempty"`
	Messages     []Message      `json:"messages,omitempty"`
	History      []StatusChange `json:"statusHistory"`

	CreatedAt   time.Time `json:"createdAt"`
	AssignedAt  time.Time `json:"assignedAt,omitempty"`
	AcceptedAt  time.Time `json:"acceptedAt,omitempty"`
	ArrivedAt   time.Time `json:"arrivedAt,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	CancelledAt time.Time `json:"cancelledAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Transition moves the booking to status and appends a history entry.
func (b *Booking) Transition(status BookingStatus, actorID, note string, at time.Time) {
	b.Status = status
	b.UpdatedAt = at
	b.History = append(b.History, StatusChange{
		Status:  status,
		At:      at,
		ActorID: actorID,
		Note:    note,
	})
}

// IsParticipant reports whether id is the requester or the assigned driver.
func (b *Booking) IsParticipant(id string) bool {
	return id != "" && (id == b.RequesterID || id == b.AssignedDriverID)
}

// Counterpart returns the other party of the booking for the given participant.
func (b *Booking) Counterpart(id string) string {
	if id == b.RequesterID {
		return b.AssignedDriverID
	}
	return b.RequesterID
}

// HasRejected reports whether the driver already declined this booking.
func (b *Booking) HasRejected(driverID string) bool {
	for _, id := range b.RejectedBy {
		if id == driverID {
			return true
		}
	}
	return false
}

// FindOffer returns the fare offer with the given id.
func (b *Booking) FindOffer(offerID string) (*FareOffer, bool) {
	for i := range b.Offers {
		if b.Offers[i].ID == offerID {
			return &b.Offers[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.Destination != nil {
		d := *b.Destination
		c.Destination = &d
	}
	if b.DriverOrigin != nil {
		o := *b.DriverOrigin
		c.DriverOrigin = &o
	}
	if b.DriverLast != nil {
		l := *b.DriverLast
		c.DriverLast = &l
	}
	if b.Waiting != nil {
		w := *b.Waiting
		c.Waiting = &w
	}
	if b.Cancellation != nil {
		x := *b.Cancellation
		c.Cancellation = &x
	}
	c.Candidates = append([]string(nil), b.Candidates...)
	c.RejectedBy = append([]string(nil), b.RejectedBy...)
	c.Offers = append([]FareOffer(nil), b.Offers...)
	c.Messages = append([]Message(nil), b.Messages...)
	c.History = append([]StatusChange(nil), b.History...)
	return &c
}
