package service

import (
	"github.com/apex/log"

	"recovery/internal/domain"
	"recovery/internal/realtime"
)

// Publisher is the delivery surface of the realtime core.
type Publisher interface {
	SendTo(identityID string, msg *realtime.Message) int
	Publish(topic string, msg *realtime.Message) int
	PublishTo(topic string, identityIDs []string, msg *realtime.Message) []string
	JoinIdentity(identityID, topic string)
	LeaveTopic(topic string)
}

// Ensure the realtime core satisfies Publisher.
var _ Publisher = (*realtime.Core)(nil)

// Notifier turns booking transitions into outbound events. Delivery is best
// effort: offline parties simply miss the push.
type Notifier struct {
	pub     Publisher
	logTags log.Fields
}

// NewNotifier creates a Notifier over pub.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{
		pub:     pub,
		logTags: log.Fields{"module": "service", "component": "notifier"},
	}
}

// DriverSummary is the driver contact card shared with the requester.
type DriverSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	VehicleType string `json:"vehicleType,omitempty"`
	PlateNumber string `json:"plateNumber,omitempty"`
}

// RequestSummary is the booking digest offered to drivers.
type RequestSummary struct {
	BookingID      string                  `json:"bookingId"`
	ServiceType    string                  `json:"serviceType"`
	VehicleType    string                  `json:"vehicleType,omitempty"`
	Pickup         domain.Location         `json:"pickupLocation"`
	Destination    *domain.Location        `json:"destination,omitempty"`
	Preference     domain.DriverPreference `json:"preference"`
	EstimatedFare  float64                 `json:"estimatedFare,omitempty"`
	NegotiatedFare float64                 `json:"negotiatedFare,omitempty"`
	DistanceKm     float64                 `json:"distanceKm,omitempty"`
}

// StatusUpdate is the generic payload of a booking status push.
type StatusUpdate struct {
	BookingID string               `json:"bookingId"`
	Status    domain.BookingStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	ActorID   string               `json:"actorId,omitempty"`
}

func summarize(b *domain.Booking) RequestSummary {
	return RequestSummary{
		BookingID:      b.ID,
		ServiceType:    b.ServiceType,
		VehicleType:    b.VehicleType,
		Pickup:         b.Pickup,
		Destination:    b.Destination,
		Preference:     b.Preference,
		EstimatedFare:  b.EstimatedFare,
		NegotiatedFare: b.NegotiatedFare,
	}
}

func (n *Notifier) send(identityID string, event realtime.Event, data any) {
	if identityID == "" {
		return
	}
	if n.pub.SendTo(identityID, realtime.NewMessage(event, data)) == 0 {
		log.WithFields(n.logTags).WithFields(log.Fields{
			"identity": identityID, "event": event,
		}).Debug("Recipient offline")
	}
}

// NotifyCreated acknowledges a new booking to its requester.
func (n *Notifier) NotifyCreated(b *domain.Booking) {
	n.send(b.RequesterID, realtime.EventRecoveryCreated, StatusUpdate{
		BookingID: b.ID,
		Status:    b.Status,
		Message:   "looking for drivers",
	})
}

// BroadcastRequest offers the booking to the candidate drivers on the driver
// role topic, nearest first, and returns the drivers reached.
func (n *Notifier) BroadcastRequest(b *domain.Booking, candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.DriverID
	}
	reached := n.pub.PublishTo(realtime.RoleTopic(domain.RoleDriver), ids, realtime.NewMessage(realtime.EventRecoveryBroadcast, summarize(b)))
	log.WithFields(n.logTags).WithFields(log.Fields{
		"booking": b.ID, "candidates": len(ids), "reached": len(reached),
	}).Info("Booking broadcast")
	return reached
}

// NotifyAssignment addresses a directly assigned booking to its driver.
func (n *Notifier) NotifyAssignment(b *domain.Booking, distanceKm float64) {
	summary := summarize(b)
	summary.DistanceKm = distanceKm
	n.send(b.AssignedDriverID, realtime.EventDriverAssignment, summary)
}

// NotifyAccepted tells the requester who is coming and roughly when, and
// opens the booking topic to both parties.
func (n *Notifier) NotifyAccepted(b *domain.Booking, acceptance Acceptance) {
	topic := realtime.BookingTopic(b.ID)
	n.pub.JoinIdentity(b.RequesterID, topic)
	n.pub.JoinIdentity(b.AssignedDriverID, topic)
	n.send(b.RequesterID, realtime.EventDriverAccepted, acceptance)
}

// NotifyTaken tells the other broadcast candidates the booking is gone.
func (n *Notifier) NotifyTaken(b *domain.Booking, candidates []string) {
	others := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id != b.AssignedDriverID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return
	}
	n.pub.PublishTo(realtime.RoleTopic(domain.RoleDriver), others, realtime.NewMessage(realtime.EventRecoveryTaken, StatusUpdate{
		BookingID: b.ID,
		Status:    b.Status,
	}))
}

// NotifyFailed tells the requester no driver could be found.
func (n *Notifier) NotifyFailed(b *domain.Booking, reason string) {
	n.send(b.RequesterID, realtime.EventRecoveryFailed, StatusUpdate{
		BookingID: b.ID,
		Status:    b.Status,
		Message:   reason,
	})
}

// NotifyExpired tells both parties the booking timed out.
func (n *Notifier) NotifyExpired(b *domain.Booking) {
	update := StatusUpdate{BookingID: b.ID, Status: b.Status, Message: "no driver accepted in time"}
	n.send(b.RequesterID, realtime.EventRecoveryExpired, update)
	n.send(b.AssignedDriverID, realtime.EventRecoveryExpired, update)
}

// NotifyFareOffered relays a driver's bid to the requester.
func (n *Notifier) NotifyFareOffered(b *domain.Booking, offer domain.FareOffer) {
	n.send(b.RequesterID, realtime.EventFareOffered, FareUpdate{BookingID: b.ID, Offer: offer})
}

// NotifyFareCountered relays the requester's counter to the bidding driver.
func (n *Notifier) NotifyFareCountered(b *domain.Booking, offer domain.FareOffer) {
	n.send(offer.DriverID, realtime.EventFareCountered, FareUpdate{BookingID: b.ID, Offer: offer})
}

// PublishLocation sends the driver's position and ETA to the booking topic.
func (n *Notifier) PublishLocation(b *domain.Booking, update LocationUpdate) {
	if n.pub.Publish(realtime.BookingTopic(b.ID), realtime.NewMessage(realtime.EventDriverLocation, update)) == 0 {
		n.send(b.RequesterID, realtime.EventDriverLocation, update)
	}
}

// NotifyArrived tells the requester the driver is at the pickup point.
func (n *Notifier) NotifyArrived(b *domain.Booking) {
	n.send(b.RequesterID, realtime.EventDriverArrived, ArrivalUpdate{
		BookingID: b.ID,
		Status:    b.Status,
		ArrivedAt: b.ArrivedAt,
		Waiting:   b.Waiting,
	})
}

// NotifyWaiting pushes a live waiting-charge quote to both parties.
func (n *Notifier) NotifyWaiting(b *domain.Booking, quote WaitingQuote) {
	n.send(b.RequesterID, realtime.EventWaitingTimeUpdated, quote)
	n.send(b.AssignedDriverID, realtime.EventWaitingTimeUpdated, quote)
}

// RelayWaiting sends a requested waiting quote to the party that did not ask for it.
func (n *Notifier) RelayWaiting(b *domain.Booking, actorID string, quote WaitingQuote) {
	n.send(b.Counterpart(actorID), realtime.EventWaitingTimeUpdated, quote)
}

// NotifyStarted sends the running bill to both parties.
func (n *Notifier) NotifyStarted(b *domain.Booking, bill Bill) {
	n.send(b.RequesterID, realtime.EventServiceStarted, bill)
	n.send(b.AssignedDriverID, realtime.EventServiceStarted, bill)
}

// NotifyCompleted sends the final bill to both parties.
func (n *Notifier) NotifyCompleted(b *domain.Booking, bill Bill) {
	payload := Completion{Bill: bill, Receipt: FormatBill(bill)}
	n.send(b.RequesterID, realtime.EventServiceCompleted, payload)
	n.send(b.AssignedDriverID, realtime.EventServiceCompleted, payload)
}

// NotifyCancelled tells the non-cancelling side. An unassigned broadcast
// booking withdraws its offer from the candidates instead.
func (n *Notifier) NotifyCancelled(b *domain.Booking, candidates []string) {
	c := b.Cancellation
	update := CancellationUpdate{
		BookingID:   b.ID,
		Status:      b.Status,
		CancelledBy: c.CancelledBy,
		Role:        c.Role,
		Reason:      c.Reason,
		Tier:        c.Tier,
		Fee:         c.Fee,
	}

	if counterpart := b.Counterpart(c.CancelledBy); counterpart != "" {
		n.send(counterpart, realtime.EventRecoveryCancelled, update)
		return
	}
	if len(candidates) > 0 {
		n.pub.PublishTo(realtime.RoleTopic(domain.RoleDriver), candidates, realtime.NewMessage(realtime.EventRecoveryCancelled, update))
	}
}

// RelayMessage delivers a chat message to the other party's personal topic.
func (n *Notifier) RelayMessage(b *domain.Booking, msg domain.Message) {
	to := b.Counterpart(msg.SenderID)
	if to == "" {
		return
	}
	n.pub.Publish(realtime.UserTopic(to), realtime.NewMessage(realtime.EventMessageReceived, MessageUpdate{
		BookingID: b.ID,
		Message:   msg,
	}))
}

// CloseRoom drops every member of the booking topic.
func (n *Notifier) CloseRoom(b *domain.Booking) {
	n.pub.LeaveTopic(realtime.BookingTopic(b.ID))
}
