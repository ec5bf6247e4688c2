package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery/internal/domain"
	"recovery/internal/service"
)

func newDriverFixture() (*service.DriverService, *MockLocationStore, *MockDriverRepository, *MockDriverCache) {
	locations := NewMockLocationStore()
	drivers := NewMockDriverRepository()
	cache := NewMockDriverCache()
	return service.NewDriverService(locations, cache, drivers), locations, drivers, cache
}

func TestUpdateLocation_BringsOfflineDriverOnline(t *testing.T) {
	svc, locations, drivers, cache := newDriverFixture()
	d := onlineDriver("d1")
	d.Status = domain.DriverStatusOffline
	drivers.AddDriver(d)

	err := svc.UpdateLocation(context.Background(), "d1", domain.Location{Lat: 25.2, Lng: 55.3})
	require.NoError(t, err)

	assert.True(t, locations.HasLocation("d1"))
	assert.Equal(t, domain.DriverStatusOnline, drivers.StatusOf("d1"))
	assert.True(t, cache.Cached("d1"))
}

func TestUpdateLocation_KeepsOnTripStatus(t *testing.T) {
	svc, _, drivers, _ := newDriverFixture()
	d := onlineDriver("d1")
	d.Status = domain.DriverStatusOnTrip
	drivers.AddDriver(d)

	require.NoError(t, svc.UpdateLocation(context.Background(), "d1", domain.Location{Lat: 25.2, Lng: 55.3}))
	assert.Equal(t, domain.DriverStatusOnTrip, drivers.StatusOf("d1"))
	assert.Equal(t, int32(0), drivers.UpdateStatusCallCount)
}

func TestUpdateLocation_Validation(t *testing.T) {
	svc, locations, _, _ := newDriverFixture()

	err := svc.UpdateLocation(context.Background(), "", domain.Location{Lat: 25.2, Lng: 55.3})
	assert.True(t, errors.Is(err, service.ErrInvalidDriverID))

	err = svc.UpdateLocation(context.Background(), "d1", domain.Location{Lat: 95, Lng: 55.3})
	assert.True(t, errors.Is(err, service.ErrInvalidLocation))

	err = svc.UpdateLocation(context.Background(), "d1", domain.Location{Lat: 25.2, Lng: -181})
	assert.True(t, errors.Is(err, service.ErrInvalidLocation))

	assert.Equal(t, int32(0), locations.UpdateLocationCallCount)
}

func TestUpdateLocation_StoreError(t *testing.T) {
	svc, locations, _, _ := newDriverFixture()
	locations.UpdateLocationError = ErrMockTimeout

	err := svc.UpdateLocation(context.Background(), "d1", domain.Location{Lat: 25.2, Lng: 55.3})
	assert.True(t, errors.Is(err, ErrMockTimeout))
}

func TestSetOffline(t *testing.T) {
	svc, locations, drivers, cache := newDriverFixture()
	drivers.AddDriver(onlineDriver("idle"))
	busy := onlineDriver("busy")
	busy.Status = domain.DriverStatusOnTrip
	drivers.AddDriver(busy)

	ctx := context.Background()
	require.NoError(t, svc.UpdateLocation(ctx, "idle", domain.Location{Lat: 25.2, Lng: 55.3}))
	require.NoError(t, svc.UpdateLocation(ctx, "busy", domain.Location{Lat: 25.2, Lng: 55.3}))

	require.NoError(t, svc.SetOffline(ctx, "idle"))
	assert.Equal(t, domain.DriverStatusOffline, drivers.StatusOf("idle"))
	assert.False(t, locations.HasLocation("idle"))
	assert.False(t, cache.Cached("idle"))

	require.NoError(t, svc.SetOffline(ctx, "busy"))
	assert.Equal(t, domain.DriverStatusOnTrip, drivers.StatusOf("busy"))
	assert.True(t, locations.HasLocation("busy"))

	assert.NoError(t, svc.SetOffline(ctx, "unknown"))
}

func TestBookingLocation_RequiresAssignedDriver(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.addDriver("d1", driverOrigin, 11.1)
	h.drivers.AddDriver(onlineDriver("d2"))
	ctx := context.Background()

	created, err := h.create(t, pinned("d1"))
	require.NoError(t, err)

	// Assigned but not yet accepted.
	_, err = h.svc.UpdateLocation(ctx, service.LocationRequest{
		BookingID: created.BookingID, DriverID: "d1", Location: &domain.Location{Lat: 25.25, Lng: 55.3},
	})
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))

	_, err = h.svc.Accept(ctx, service.AcceptRequest{BookingID: created.BookingID, DriverID: "d1"})
	require.NoError(t, err)

	_, err = h.svc.UpdateLocation(ctx, service.LocationRequest{
		BookingID: created.BookingID, DriverID: "d2", Location: &domain.Location{Lat: 25.25, Lng: 55.3},
	})
	assert.True(t, errors.Is(err, service.ErrNotAuthorized))

	update, err := h.svc.UpdateLocation(ctx, service.LocationRequest{DriverID: "d2", Location: &domain.Location{Lat: 25.25, Lng: 55.3}})
	require.NoError(t, err)
	assert.Empty(t, update.BookingID)
	assert.True(t, h.locations.HasLocation("d2"))
}
