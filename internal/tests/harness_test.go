package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"recovery/internal/domain"
	"recovery/internal/realtime"
	"recovery/internal/redis"
	"recovery/internal/service"
)

const serviceType = "towing"

// Reference points around Dubai used across the scenarios.
var (
	pickup       = domain.Location{Lat: 25.2, Lng: 55.3, Address: "Sheikh Zayed Rd"}
	driverOrigin = domain.Location{Lat: 25.3, Lng: 55.3}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires a BookingService over in-memory collaborators and a real realtime core.
type harness struct {
	core      *realtime.Core
	bookings  *MockBookingRepository
	drivers   *MockDriverRepository
	users     *MockUserRepository
	pricing   *MockPricingRepository
	locations *MockLocationStore
	locks     *MockLockStore
	cache     *MockDriverCache
	clock     *testClock
	driverSvc *service.DriverService
	svc       *service.BookingService
}

func newHarness(t *testing.T, cfg service.BookingConfig) *harness {
	t.Helper()
	h := &harness{
		core:      realtime.NewCore(time.Hour),
		bookings:  NewMockBookingRepository(),
		drivers:   NewMockDriverRepository(),
		users:     NewMockUserRepository(),
		pricing:   NewMockPricingRepository(),
		locations: NewMockLocationStore(),
		locks:     NewMockLockStore(),
		cache:     NewMockDriverCache(),
		clock:     newTestClock(),
	}
	h.driverSvc = service.NewDriverService(h.locations, h.cache, h.drivers)
	matching := service.NewMatchingService(h.locations, h.cache, h.drivers, h.users, service.MatchingConfig{})
	h.svc = service.NewBookingService(service.BookingDeps{
		Bookings: h.bookings,
		Pricing:  h.pricing,
		Finder:   matching,
		Drivers:  h.driverSvc,
		Locks:    h.locks,
		Notifier: service.NewNotifier(h.core),
	}, cfg, service.WithClock(h.clock.Now))
	t.Cleanup(h.svc.Shutdown)
	return h
}

// addDriver registers an online driver indexed at loc, distanceKm from the pickup.
func (h *harness) addDriver(id string, loc domain.Location, distanceKm float64) {
	h.drivers.AddDriver(&domain.Driver{
		ID:          id,
		Name:        "Driver " + id,
		Phone:       "+97150000" + id,
		Status:      domain.DriverStatusOnline,
		VehicleType: "flatbed",
		PlateNumber: "DXB-" + id,
		KYCLevel:    2,
	})
	h.locations.AddLocation(redis.DriverLocation{
		DriverID: id, Lat: loc.Lat, Lng: loc.Lng, DistanceKm: distanceKm,
	})
}

// connect opens an in-process session for id and discards its greeting.
func (h *harness) connect(t *testing.T, id string, role domain.Role) *realtime.Session {
	t.Helper()
	s := realtime.NewSession(realtime.Identity{ID: id, Role: role}, nil, 256)
	h.core.Connect(s)
	t.Cleanup(s.Close)
	drain(s)
	return s
}

func (h *harness) create(t *testing.T, pref domain.DriverPreference) (*service.CreateResult, error) {
	t.Helper()
	p := pickup
	return h.svc.Create(context.Background(), service.CreateRequest{
		RequesterID: "rider-1",
		ServiceType: serviceType,
		Pickup:      &p,
		Preference:  pref,
	})
}

func pinned(driverID string) domain.DriverPreference {
	return domain.DriverPreference{Mode: domain.PreferencePinned, PinnedDriverID: driverID}
}

// drain returns every message queued on s without blocking.
func drain(s *realtime.Session) []*realtime.Message {
	var out []*realtime.Message
	for {
		select {
		case msg, ok := <-s.Outbound():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func countEvent(msgs []*realtime.Message, event realtime.Event) int {
	n := 0
	for _, m := range msgs {
		if m.Event == event {
			n++
		}
	}
	return n
}

func findEvent(msgs []*realtime.Message, event realtime.Event) *realtime.Message {
	for _, m := range msgs {
		if m.Event == event {
			return m
		}
	}
	return nil
}

func historyStatuses(b *domain.Booking) []domain.BookingStatus {
	out := make([]domain.BookingStatus, len(b.History))
	for i, h := range b.History {
		out[i] = h.Status
	}
	return out
}
