package tests

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery/internal/domain"
	"recovery/internal/handler"
	"recovery/internal/middleware"
	"recovery/internal/realtime"
	"recovery/internal/service"
)

// bindEvents registers the event table on the harness core.
func (h *harness) bindEvents(mws ...realtime.Middleware) *handler.EventHandler {
	events := handler.NewEventHandler(h.svc, h.driverSvc, h.core)
	events.Register(h.core.Dispatcher, mws...)
	return events
}

// send dispatches event from s and returns the reply carrying requestID.
func send(t *testing.T, h *harness, s *realtime.Session, event realtime.Event, requestID string, data any) *realtime.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	h.core.Dispatcher.Dispatch(context.Background(), s, realtime.Envelope{
		Event: event, RequestID: requestID, Data: raw,
	})
	for _, msg := range drain(s) {
		if msg.RequestID == requestID {
			return msg
		}
	}
	t.Fatalf("no reply to %s (%s)", event, requestID)
	return nil
}

func requestData(mode domain.DriverPreferenceMode) map[string]any {
	return map[string]any{
		"serviceType":      serviceType,
		"pickupLocation":   map[string]any{"lat": pickup.Lat, "lng": pickup.Lng},
		"driverPreference": map[string]any{"mode": mode},
	}
}

func TestEvents_RequestWithoutDriversReportsUnavailable(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents()
	rider := h.connect(t, "rider-1", domain.RoleRider)

	reply := send(t, h, rider, realtime.EventRecoveryRequest, "r1", requestData(domain.PreferenceNearby))

	assert.Equal(t, realtime.EventError, reply.Event)
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeDriverUnavailable, reply.Error.Code)
	bookingID, ok := reply.Error.Details["bookingId"].(string)
	require.True(t, ok)

	stored := h.bookings.GetBooking(bookingID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.BookingStatusFailed, stored.Status)
}

func TestEvents_PayloadValidation(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents()
	rider := h.connect(t, "rider-1", domain.RoleRider)

	tests := []struct {
		name string
		data any
	}{
		{"missing pickup", map[string]any{"serviceType": serviceType}},
		{"missing service type", map[string]any{"pickupLocation": map[string]any{"lat": 1, "lng": 1}}},
		{"latitude out of range", map[string]any{"serviceType": serviceType, "pickupLocation": map[string]any{"lat": 91, "lng": 1}}},
		{"wrong shape", []int{1, 2, 3}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := send(t, h, rider, realtime.EventRecoveryRequest, "v"+string(rune('a'+i)), tt.data)
			require.NotNil(t, reply.Error)
			assert.Equal(t, handler.CodeValidation, reply.Error.Code)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.bookings.CreateCallCount))
}

func TestEvents_RoleChecks(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents()
	driver := h.connect(t, "d-1", domain.RoleDriver)
	rider := h.connect(t, "rider-1", domain.RoleRider)

	reply := send(t, h, driver, realtime.EventRecoveryRequest, "r1", requestData(domain.PreferenceNearby))
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeUnauthorizedActor, reply.Error.Code)

	reply = send(t, h, rider, realtime.EventDriverAccept, "r2", map[string]any{"bookingId": "b-1"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeUnauthorizedActor, reply.Error.Code)
}

func TestEvents_BroadcastAcceptFlow(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents()
	h.addDriver("d-1", driverOrigin, 2)
	driver := h.connect(t, "d-1", domain.RoleDriver)
	rider := h.connect(t, "rider-1", domain.RoleRider)

	reply := send(t, h, rider, realtime.EventRecoveryRequest, "r1", requestData(domain.PreferenceNearby))
	require.Nil(t, reply.Error)
	created, ok := reply.Data.(*service.CreateResult)
	require.True(t, ok)
	assert.Equal(t, domain.BookingStatusPending, created.Status)
	assert.Equal(t, []string{"d-1"}, created.Notified)
	assert.Equal(t, 1, countEvent(drain(driver), realtime.EventRecoveryBroadcast))

	reply = send(t, h, driver, realtime.EventDriverAccept, "a1", map[string]any{"bookingId": created.BookingID})
	require.Nil(t, reply.Error)
	acceptance, ok := reply.Data.(*service.Acceptance)
	require.True(t, ok)
	assert.Equal(t, domain.BookingStatusAccepted, acceptance.Status)
	assert.NotNil(t, findEvent(drain(rider), realtime.EventDriverAccepted))

	// Transitions on unknown or out-of-order bookings are reported, not applied.
	reply = send(t, h, driver, realtime.EventDriverArrival, "s0", map[string]any{"bookingId": "missing"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeNotFound, reply.Error.Code)

	reply = send(t, h, driver, realtime.EventServiceStart, "s1", map[string]any{"bookingId": created.BookingID})
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeInvalidState, reply.Error.Code)
	assert.Equal(t, domain.BookingStatusAccepted, reply.Error.Details["currentStatus"])
}

func TestEvents_RoomJoinRequiresParticipation(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents()
	h.addDriver("d-1", driverOrigin, 2)
	h.connect(t, "d-1", domain.RoleDriver)
	rider := h.connect(t, "rider-1", domain.RoleRider)
	outsider := h.connect(t, "rider-2", domain.RoleRider)
	admin := h.connect(t, "ops-1", domain.RoleAdmin)

	result, err := h.create(t, domain.DriverPreference{Mode: domain.PreferenceNearby})
	require.NoError(t, err)
	room := realtime.BookingTopic(result.BookingID)

	reply := send(t, h, outsider, realtime.EventRoomJoin, "j1", map[string]any{"room": room})
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeUnauthorizedActor, reply.Error.Code)

	reply = send(t, h, rider, realtime.EventRoomJoin, "j2", map[string]any{"room": room})
	require.Nil(t, reply.Error)
	assert.Equal(t, handler.RoomUpdate{Room: room, Joined: true}, reply.Data)

	reply = send(t, h, admin, realtime.EventRoomJoin, "j3", map[string]any{"room": room})
	assert.Nil(t, reply.Error)

	reply = send(t, h, outsider, realtime.EventRoomJoin, "j4", map[string]any{"room": realtime.UserTopic("rider-1")})
	require.NotNil(t, reply.Error)
	assert.Equal(t, handler.CodeUnauthorizedActor, reply.Error.Code)
}

func TestEvents_RoleSwitch(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents()
	h.addDriver("d-1", driverOrigin, 2)

	t.Run("rider without driver record", func(t *testing.T) {
		s := h.connect(t, "rider-1", domain.RoleRider)
		reply := send(t, h, s, realtime.EventAuthJoinDriver, "x1", nil)
		require.NotNil(t, reply.Error)
		assert.Equal(t, handler.CodeUnauthorizedActor, reply.Error.Code)
		assert.Equal(t, domain.RoleRider, s.Role())
	})

	t.Run("rider with driver record", func(t *testing.T) {
		s := h.connect(t, "d-1", domain.RoleRider)
		reply := send(t, h, s, realtime.EventAuthJoinDriver, "x2", nil)
		require.Nil(t, reply.Error)
		assert.Equal(t, domain.RoleDriver, s.Role())
		assert.Contains(t, s.Topics(), realtime.RoleTopic(domain.RoleDriver))
		assert.NotContains(t, s.Topics(), realtime.RoleTopic(domain.RoleRider))
	})

	t.Run("driver back to customer", func(t *testing.T) {
		s := h.connect(t, "d-1", domain.RoleDriver)
		reply := send(t, h, s, realtime.EventAuthJoinCustomer, "x3", nil)
		require.Nil(t, reply.Error)
		assert.Equal(t, domain.RoleRider, s.Role())
	})

	t.Run("admin needs admin credential", func(t *testing.T) {
		s := h.connect(t, "d-1", domain.RoleDriver)
		reply := send(t, h, s, realtime.EventAuthJoin, "x4", map[string]any{"role": "admin"})
		require.NotNil(t, reply.Error)
		assert.Equal(t, handler.CodeUnauthorizedActor, reply.Error.Code)
	})
}

func TestEvents_RepeatedRequestIDIsReplayed(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	replies := NewMockReplyCache()
	h.bindEvents(middleware.Idempotent(replies, time.Minute, handler.MutatingEvents...))
	h.addDriver("d-1", driverOrigin, 2)
	h.connect(t, "d-1", domain.RoleDriver)
	rider := h.connect(t, "rider-1", domain.RoleRider)

	first := send(t, h, rider, realtime.EventRecoveryRequest, "same", requestData(domain.PreferenceNearby))
	second := send(t, h, rider, realtime.EventRecoveryRequest, "same", requestData(domain.PreferenceNearby))

	require.Nil(t, first.Error)
	require.Nil(t, second.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.bookings.CreateCallCount))

	created := first.Data.(*service.CreateResult)
	raw, ok := second.Data.(json.RawMessage)
	require.True(t, ok)
	var replayed service.CreateResult
	require.NoError(t, json.Unmarshal(raw, &replayed))
	assert.Equal(t, created.BookingID, replayed.BookingID)
}

func TestEvents_RequestIDRecycledOnNewConnection(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.bindEvents(middleware.Idempotent(NewMockReplyCache(), time.Minute, handler.MutatingEvents...))
	h.addDriver("d-1", driverOrigin, 2)
	h.connect(t, "d-1", domain.RoleDriver)

	rider := h.connect(t, "rider-1", domain.RoleRider)
	reply := send(t, h, rider, realtime.EventRecoveryRequest, "1", requestData(domain.PreferenceNearby))
	require.Nil(t, reply.Error)
	first := reply.Data.(*service.CreateResult)

	reply = send(t, h, rider, realtime.EventRecoveryCancel, "2", map[string]any{"bookingId": first.BookingID})
	require.Nil(t, reply.Error)
	rider.Close()

	// A fresh connection restarts its request counter.
	rider = h.connect(t, "rider-1", domain.RoleRider)
	reply = send(t, h, rider, realtime.EventRecoveryRequest, "1", requestData(domain.PreferenceNearby))
	require.Nil(t, reply.Error)
	second, ok := reply.Data.(*service.CreateResult)
	require.True(t, ok, "reply must come from the state machine, not the reply cache")

	assert.Equal(t, int32(2), atomic.LoadInt32(&h.bookings.CreateCallCount))
	assert.NotEqual(t, first.BookingID, second.BookingID)
	assert.Equal(t, domain.BookingStatusPending, second.Status)
	assert.Equal(t, 1, h.svc.ActiveCount())
}

func TestEvents_DriverDisconnectGoesOffline(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	events := h.bindEvents()
	h.core.OnDisconnect(events.DriverDisconnected)
	h.addDriver("d-1", driverOrigin, 2)

	first := h.connect(t, "d-1", domain.RoleDriver)
	second := h.connect(t, "d-1", domain.RoleDriver)

	first.Close()
	assert.Equal(t, domain.DriverStatusOnline, h.drivers.StatusOf("d-1"), "another session is still live")

	second.Close()
	assert.Equal(t, domain.DriverStatusOffline, h.drivers.StatusOf("d-1"))
	assert.False(t, h.locations.HasLocation("d-1"))
}
