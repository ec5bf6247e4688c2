package service

import (
	"context"
	"errors"

	"github.com/apex/log"

	"recovery/internal/domain"
	"recovery/internal/redis"
	"recovery/internal/repository"
)

// DriverService keeps driver availability in sync across the geo index,
// the driver cache and the driver store.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	cacheStore    redis.DriverCacheInterface
	driverRepo    repository.DriverRepository
	logTags       log.Fields
}

// NewDriverService creates a new DriverService. cacheStore may be nil.
func NewDriverService(
	locationStore redis.LocationStoreInterface,
	cacheStore redis.DriverCacheInterface,
	driverRepo repository.DriverRepository,
) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		cacheStore:    cacheStore,
		driverRepo:    driverRepo,
		logTags:       log.Fields{"module": "service", "component": "driver"},
	}
}

// UpdateLocation records the driver's position. An offline driver who reports
// a position comes online.
func (s *DriverService) UpdateLocation(ctx context.Context, driverID string, loc domain.Location) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if !validLocation(&loc) {
		return ErrInvalidLocation
	}

	if err := s.locationStore.UpdateLocation(ctx, driverID, loc.Lat, loc.Lng); err != nil {
		return err
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if driver.Status == domain.DriverStatusOffline {
		if err := s.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOnline); err != nil {
			return err
		}
		driver.Status = domain.DriverStatusOnline
	}

	s.refreshCache(ctx, driver)
	return nil
}

// Get returns the driver record.
func (s *DriverService) Get(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.driverRepo.GetByID(ctx, driverID)
}

// Position returns the driver's last indexed position, or nil if unknown.
func (s *DriverService) Position(ctx context.Context, driverID string) (*domain.Location, error) {
	pos, err := s.locationStore.Position(ctx, driverID)
	if err != nil || pos == nil {
		return nil, err
	}
	return &domain.Location{Lat: pos.Lat, Lng: pos.Lng}, nil
}

// SetStatus updates the driver's status and drops the stale cache entry.
// Failures are logged; callers treat driver status as best effort.
func (s *DriverService) SetStatus(ctx context.Context, driverID string, status domain.DriverStatus) {
	if driverID == "" {
		return
	}
	if err := s.driverRepo.UpdateStatus(ctx, driverID, status); err != nil {
		log.WithError(err).WithFields(s.logTags).WithFields(log.Fields{
			"driver": driverID, "status": status,
		}).Warn("Failed to update driver status")
		return
	}
	s.invalidateCache(ctx, driverID)
}

// SetOffline removes an idle driver from matching. A driver on a trip keeps
// its status so the booking can continue after a reconnect.
func (s *DriverService) SetOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if driver.Status == domain.DriverStatusOnTrip {
		return nil
	}

	if err := s.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOffline); err != nil {
		return err
	}
	if err := s.locationStore.RemoveLocation(ctx, driverID); err != nil {
		return err
	}

	s.invalidateCache(ctx, driverID)
	return nil
}

func (s *DriverService) refreshCache(ctx context.Context, driver *domain.Driver) {
	if s.cacheStore == nil {
		return
	}
	if err := s.cacheStore.SetDriversBatch(ctx, []*redis.CachedDriver{toCachedDriver(driver)}); err != nil {
		log.WithError(err).WithFields(s.logTags).WithField("driver", driver.ID).Debug("Failed to cache driver")
	}
}

func (s *DriverService) invalidateCache(ctx context.Context, driverID string) {
	if s.cacheStore == nil {
		return
	}
	if err := s.cacheStore.InvalidateDriver(ctx, driverID); err != nil {
		log.WithError(err).WithFields(s.logTags).WithField("driver", driverID).Debug("Failed to invalidate driver cache")
	}
}

func toCachedDriver(d *domain.Driver) *redis.CachedDriver {
	return &redis.CachedDriver{
		ID:                     d.ID,
		Name:                   d.Name,
		Phone:                  d.Phone,
		Status:                 string(d.Status),
		VehicleType:            d.VehicleType,
		PlateNumber:            d.PlateNumber,
		KYCLevel:               d.KYCLevel,
		Gender:                 string(d.Gender),
		AcceptsPinkCaptain:     d.AcceptsPinkCaptain,
		AcceptsFamilyRides:     d.AcceptsFamilyRides,
		AcceptsNoMaleCompanion: d.AcceptsNoMaleCompanion,
	}
}

func fromCachedDriver(c *redis.CachedDriver) *domain.Driver {
	return &domain.Driver{
		ID:                     c.ID,
		Name:                   c.Name,
		Phone:                  c.Phone,
		Status:                 domain.DriverStatus(c.Status),
		VehicleType:            c.VehicleType,
		PlateNumber:            c.PlateNumber,
		KYCLevel:               c.KYCLevel,
		Gender:                 domain.Gender(c.Gender),
		AcceptsPinkCaptain:     c.AcceptsPinkCaptain,
		AcceptsFamilyRides:     c.AcceptsFamilyRides,
		AcceptsNoMaleCompanion: c.AcceptsNoMaleCompanion,
	}
}
