package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"

	"recovery/internal/domain"
	"recovery/internal/realtime"
	"recovery/internal/repository"
	"recovery/internal/service"
)

const disconnectTimeout = 5 * time.Second

// EventHandler binds inbound realtime events to the booking service.
type EventHandler struct {
	bookings *service.BookingService
	drivers  *service.DriverService
	core     *realtime.Core
	validate *validator.Validate
	logTags  log.Fields
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(bookings *service.BookingService, drivers *service.DriverService, core *realtime.Core) *EventHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &EventHandler{
		bookings: bookings,
		drivers:  drivers,
		core:     core,
		validate: validate,
		logTags:  log.Fields{"module": "handler", "component": "events"},
	}
}

// MutatingEvents are the events whose replies may be replayed for a repeated requestId.
var MutatingEvents = []realtime.Event{
	realtime.EventRecoveryRequest,
	realtime.EventDriverAccept,
	realtime.EventDriverReject,
	realtime.EventFareOffer,
	realtime.EventFareCounter,
	realtime.EventFareAccept,
	realtime.EventDriverArrival,
	realtime.EventServiceStart,
	realtime.EventServiceComplete,
	realtime.EventRecoveryCancel,
	realtime.EventMessageSend,
}

// Register binds every event on d, wrapping each handler with mws.
func (h *EventHandler) Register(d *realtime.Dispatcher, mws ...realtime.Middleware) {
	routes := map[realtime.Event]realtime.HandlerFunc{
		realtime.EventRecoveryRequest:      h.requestRecovery,
		realtime.EventDriverAccept:         h.acceptBooking,
		realtime.EventDriverReject:         h.rejectBooking,
		realtime.EventFareOffer:            h.offerFare,
		realtime.EventFareCounter:          h.counterFare,
		realtime.EventFareAccept:           h.acceptFare,
		realtime.EventDriverLocationUpdate: h.updateLocation,
		realtime.EventDriverArrival:        h.markArrival,
		realtime.EventWaitingTimeUpdate:    h.updateWaiting,
		realtime.EventServiceStart:         h.startService,
		realtime.EventServiceComplete:      h.completeService,
		realtime.EventRecoveryCancel:       h.cancelBooking,
		realtime.EventMessageSend:          h.sendMessage,
		realtime.EventRoomJoin:             h.joinRoom,
		realtime.EventRoomLeave:            h.leaveRoom,
		realtime.EventAuthJoin:             h.joinRole,
		realtime.EventAuthJoinDriver:       h.joinAs(domain.RoleDriver),
		realtime.EventAuthJoinCustomer:     h.joinAs(domain.RoleRider),
	}
	for event, fn := range routes {
		d.On(event, realtime.Chain(event, h.wrap(fn), mws...))
	}
}

// wrap converts handler errors to wire errors. Unmapped errors are logged
// here with full context since the client only sees a generic code.
func (h *EventHandler) wrap(fn realtime.HandlerFunc) realtime.HandlerFunc {
	return func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
		result, err := fn(ctx, s, env)
		if err == nil {
			return result, nil
		}
		wire := mapErrorToCode(err)
		if wire.Code == CodeInternal {
			log.WithError(err).WithFields(h.logTags).WithFields(log.Fields{
				"event": env.Event, "request": env.RequestID, "identity": s.IdentityID(),
			}).Error("Event failed")
		}
		return nil, wire
	}
}

func (h *EventHandler) decode(env realtime.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return &realtime.Error{
			Code:    CodeValidation,
			Message: fmt.Sprintf("data of %s is malformed", env.Event),
			Err:     err,
		}
	}
	return h.validate.Struct(v)
}

func requireRole(s *realtime.Session, roles ...domain.Role) error {
	current := s.Role()
	for _, r := range roles {
		if current == r {
			return nil
		}
	}
	return &realtime.Error{
		Code:    CodeUnauthorizedActor,
		Message: fmt.Sprintf("role %s may not send this event", current),
		Details: map[string]any{"role": current},
		Err:     service.ErrNotAuthorized,
	}
}

// ──────────────────────────────────────────────
// BOOKING EVENTS
// ──────────────────────────────────────────────

type requestPayload struct {
	ServiceType      string                  `json:"serviceType" validate:"required"`
	VehicleType      string                  `json:"vehicleType"`
	PickupLocation   *domain.Location        `json:"pickupLocation" validate:"required"`
	Destination      *domain.Location        `json:"destination"`
	DriverPreference domain.DriverPreference `json:"driverPreference"`
	EstimatedFare    float64                 `json:"estimatedFare" validate:"gte=0"`
	RadiusKm         float64                 `json:"radiusKm" validate:"gte=0,lte=100"`
}

type bookingPayload struct {
	BookingID string `json:"bookingId" validate:"required"`
}

type acceptPayload struct {
	BookingID string `json:"bookingId" validate:"required"`
	OfferID   string `json:"offerId"`
}

type reasonPayload struct {
	BookingID string `json:"bookingId" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

type offerPayload struct {
	BookingID string  `json:"bookingId" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
}

type counterPayload struct {
	BookingID string  `json:"bookingId" validate:"required"`
	OfferID   string  `json:"offerId" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
}

type fareAcceptPayload struct {
	BookingID string `json:"bookingId" validate:"required"`
	OfferID   string `json:"offerId" validate:"required"`
}

type locationPayload struct {
	BookingID string           `json:"bookingId"`
	Location  *domain.Location `json:"location" validate:"required"`
}

type messagePayload struct {
	BookingID     string           `json:"bookingId" validate:"required"`
	Text          string           `json:"text" validate:"max=2000"`
	Location      *domain.Location `json:"location"`
	AttachmentURL string           `json:"attachmentUrl" validate:"omitempty,url"`
}

func (h *EventHandler) requestRecovery(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleRider); err != nil {
		return nil, err
	}
	var p requestPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Create(ctx, service.CreateRequest{
		RequesterID:   s.IdentityID(),
		ServiceType:   p.ServiceType,
		VehicleType:   p.VehicleType,
		Pickup:        p.PickupLocation,
		Destination:   p.Destination,
		Preference:    p.DriverPreference,
		EstimatedFare: p.EstimatedFare,
		RadiusKm:      p.RadiusKm,
	})
}

func (h *EventHandler) acceptBooking(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p acceptPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Accept(ctx, service.AcceptRequest{
		BookingID: p.BookingID,
		DriverID:  s.IdentityID(),
		OfferID:   p.OfferID,
	})
}

func (h *EventHandler) rejectBooking(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p reasonPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Reject(ctx, service.RejectRequest{
		BookingID: p.BookingID,
		DriverID:  s.IdentityID(),
		Reason:    p.Reason,
	})
}

func (h *EventHandler) offerFare(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p offerPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Offer(ctx, service.OfferRequest{
		BookingID: p.BookingID,
		DriverID:  s.IdentityID(),
		Amount:    p.Amount,
	})
}

func (h *EventHandler) counterFare(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleRider); err != nil {
		return nil, err
	}
	var p counterPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Counter(ctx, service.CounterRequest{
		BookingID:   p.BookingID,
		RequesterID: s.IdentityID(),
		OfferID:     p.OfferID,
		Amount:      p.Amount,
	})
}

func (h *EventHandler) acceptFare(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleRider); err != nil {
		return nil, err
	}
	var p fareAcceptPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.AcceptFare(ctx, service.FareAcceptRequest{
		BookingID:   p.BookingID,
		RequesterID: s.IdentityID(),
		OfferID:     p.OfferID,
	})
}

func (h *EventHandler) updateLocation(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p locationPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.UpdateLocation(ctx, service.LocationRequest{
		BookingID: p.BookingID,
		DriverID:  s.IdentityID(),
		Location:  p.Location,
	})
}

func (h *EventHandler) markArrival(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p bookingPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Arrive(ctx, service.TransitionRequest{BookingID: p.BookingID, ActorID: s.IdentityID()})
}

func (h *EventHandler) updateWaiting(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	var p bookingPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.WaitingUpdate(ctx, service.TransitionRequest{BookingID: p.BookingID, ActorID: s.IdentityID()})
}

func (h *EventHandler) startService(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p bookingPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Start(ctx, service.TransitionRequest{BookingID: p.BookingID, ActorID: s.IdentityID()})
}

func (h *EventHandler) completeService(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p bookingPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	bill, err := h.bookings.Complete(ctx, service.TransitionRequest{BookingID: p.BookingID, ActorID: s.IdentityID()})
	if err != nil {
		return nil, err
	}
	return service.Completion{Bill: *bill, Receipt: service.FormatBill(*bill)}, nil
}

func (h *EventHandler) cancelBooking(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	if err := requireRole(s, domain.RoleRider, domain.RoleDriver); err != nil {
		return nil, err
	}
	var p reasonPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.bookings.Cancel(ctx, service.CancelRequest{
		BookingID: p.BookingID,
		ActorID:   s.IdentityID(),
		Reason:    p.Reason,
	})
}

func (h *EventHandler) sendMessage(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	var p messagePayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	msg, err := h.bookings.SendMessage(ctx, service.MessageRequest{
		BookingID:     p.BookingID,
		SenderID:      s.IdentityID(),
		Text:          p.Text,
		Location:      p.Location,
		AttachmentURL: p.AttachmentURL,
	})
	if err != nil {
		return nil, err
	}
	return service.MessageUpdate{BookingID: p.BookingID, Message: *msg}, nil
}

// ──────────────────────────────────────────────
// ROOM CONTROL
// ──────────────────────────────────────────────

type roomPayload struct {
	Room string `json:"room" validate:"required"`
}

type rolePayload struct {
	Role domain.Role `json:"role" validate:"required,oneof=rider driver admin"`
}

// RoomUpdate acknowledges a room membership change.
type RoomUpdate struct {
	Room   string `json:"room"`
	Joined bool   `json:"joined"`
}

// RoleUpdate acknowledges a role switch.
type RoleUpdate struct {
	IdentityID string      `json:"identityId"`
	Role       domain.Role `json:"role"`
}

func (h *EventHandler) joinRoom(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	var p roomPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	if err := h.authorizeRoom(ctx, s, p.Room); err != nil {
		return nil, err
	}
	h.core.Router.Join(s, p.Room)
	return RoomUpdate{Room: p.Room, Joined: true}, nil
}

func (h *EventHandler) leaveRoom(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	var p roomPayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	h.core.Router.Leave(s, p.Room)
	return RoomUpdate{Room: p.Room, Joined: false}, nil
}

// authorizeRoom allows a session into its own user and role topics and into
// the topic of a booking it takes part in. Admins may join any topic.
func (h *EventHandler) authorizeRoom(ctx context.Context, s *realtime.Session, room string) error {
	if s.GrantedRole() == domain.RoleAdmin {
		return nil
	}
	switch {
	case room == realtime.UserTopic(s.IdentityID()), room == realtime.RoleTopic(s.Role()):
		return nil
	}

	bookingID, ok := realtime.BookingIDFromTopic(room)
	if !ok {
		return service.ErrNotAuthorized
	}
	b, err := h.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if !b.IsParticipant(s.IdentityID()) {
		return service.ErrNotAuthorized
	}
	return nil
}

func (h *EventHandler) joinRole(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
	var p rolePayload
	if err := h.decode(env, &p); err != nil {
		return nil, err
	}
	return h.switchRole(ctx, s, p.Role)
}

func (h *EventHandler) joinAs(role domain.Role) realtime.HandlerFunc {
	return func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
		return h.switchRole(ctx, s, role)
	}
}

// switchRole moves the session to role after checking the identity may act in it:
// anyone may ride, drivers need a driver record, admin needs an admin credential.
func (h *EventHandler) switchRole(ctx context.Context, s *realtime.Session, role domain.Role) (any, error) {
	granted := s.GrantedRole()
	switch role {
	case domain.RoleRider:
	case domain.RoleDriver:
		if granted != domain.RoleDriver && granted != domain.RoleAdmin {
			if _, err := h.drivers.Get(ctx, s.IdentityID()); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, service.ErrNotAuthorized
				}
				return nil, err
			}
		}
	case domain.RoleAdmin:
		if granted != domain.RoleAdmin {
			return nil, service.ErrNotAuthorized
		}
	default:
		return nil, service.ErrInvalidRequest
	}

	h.core.SwitchRole(s, role)
	log.WithFields(h.logTags).WithFields(log.Fields{
		"session": s.ID(), "identity": s.IdentityID(), "role": role,
	}).Info("Session switched role")
	return RoleUpdate{IdentityID: s.IdentityID(), Role: role}, nil
}

// DriverDisconnected takes a driver out of matching once its last live
// session is gone. Register it with realtime.Core.OnDisconnect.
func (h *EventHandler) DriverDisconnected(s *realtime.Session) {
	if s.Role() != domain.RoleDriver && s.GrantedRole() != domain.RoleDriver {
		return
	}
	if h.core.IsOnline(s.IdentityID()) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := h.drivers.SetOffline(ctx, s.IdentityID()); err != nil {
		log.WithError(err).WithFields(h.logTags).WithField("driver", s.IdentityID()).Warn("Failed to mark driver offline")
	}
}
