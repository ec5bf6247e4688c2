package realtime

// Event is the name carried in an envelope's event field.
type Event string

// Inbound events handled by the dispatch core.
const (
	EventRecoveryRequest      Event = "recovery.request"
	EventDriverAccept         Event = "driver.accept"
	EventDriverReject         Event = "driver.reject"
	EventFareOffer            Event = "fare.offer"
	EventFareCounter          Event = "fare.counter"
	EventFareAccept           Event = "fare.accept"
	EventDriverLocationUpdate Event = "driver.location.update"
	EventDriverArrival        Event = "driver.arrival"
	EventWaitingTimeUpdate    Event = "waiting.time.update"
	EventServiceStart         Event = "service.start"
	EventServiceComplete      Event = "service.complete"
	EventRecoveryCancel       Event = "recovery.cancel"
	EventMessageSend          Event = "message.send"
	EventRoomJoin             Event = "room.join"
	EventRoomLeave            Event = "room.leave"
	EventAuthJoin             Event = "auth.join"
	EventAuthJoinDriver       Event = "auth.join.driver"
	EventAuthJoinCustomer     Event = "auth.join.customer"
)

// System events answered by the dispatcher itself.
const (
	EventPing Event = "ping"
	EventPong Event = "pong"
)

// Outbound events pushed to clients.
const (
	EventAuthenticated      Event = "authenticated"
	EventError              Event = "error"
	EventRecoveryCreated    Event = "recovery.created"
	EventRecoveryBroadcast  Event = "recovery.broadcast"
	EventRecoveryTaken      Event = "recovery.taken"
	EventRecoveryFailed     Event = "recovery.failed"
	EventRecoveryExpired    Event = "recovery.expired"
	EventRecoveryCancelled  Event = "recovery.cancelled"
	EventDriverAssignment   Event = "driver.assignment"
	EventDriverAccepted     Event = "driver.accepted"
	EventDriverLocation     Event = "driver.location"
	EventDriverArrived      Event = "driver.arrived"
	EventFareOffered        Event = "fare.offered"
	EventFareCountered      Event = "fare.countered"
	EventWaitingTimeUpdated Event = "waiting.time.updated"
	EventServiceStarted     Event = "service.started"
	EventServiceCompleted   Event = "service.completed"
	EventMessageReceived    Event = "message.received"
)

var inboundEvents = map[Event]struct{}{
	EventRecoveryRequest:      {},
	EventDriverAccept:         {},
	EventDriverReject:         {},
	EventFareOffer:            {},
	EventFareCounter:          {},
	EventFareAccept:           {},
	EventDriverLocationUpdate: {},
	EventDriverArrival:        {},
	EventWaitingTimeUpdate:    {},
	EventServiceStart:         {},
	EventServiceComplete:      {},
	EventRecoveryCancel:       {},
	EventMessageSend:          {},
	EventRoomJoin:             {},
	EventRoomLeave:            {},
	EventAuthJoin:             {},
	EventAuthJoinDriver:       {},
	EventAuthJoinCustomer:     {},
}

// Inbound reports whether e is a client event handlers may be registered for.
func (e Event) Inbound() bool {
	_, ok := inboundEvents[e]
	return ok
}

// System reports whether e is answered by the dispatcher without handlers.
func (e Event) System() bool {
	return e == EventPing || e == EventPong
}
