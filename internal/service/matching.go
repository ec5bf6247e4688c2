package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/apex/log"

	"recovery/internal/domain"
	"recovery/internal/redis"
	"recovery/internal/repository"
)

const (
	defaultSearchRadiusKm      = 5.0
	defaultPinkCaptainRadiusKm = 50.0
)

// MatchingConfig tunes candidate selection.
type MatchingConfig struct {
	DefaultRadiusKm     float64
	PinkCaptainRadiusKm float64
	MinKYCLevel         int
}

// CandidateFilter narrows the drivers considered for a booking.
type CandidateFilter struct {
	RequesterID string
	VehicleType string  // Optional: empty means any vehicle
	RadiusKm    float64 // Optional: 0 uses the mode default
	Preference  domain.DriverPreference
}

// Candidate is a driver eligible for a booking.
type Candidate struct {
	DriverID   string          `json:"driverId"`
	Location   domain.Location `json:"location"`
	DistanceKm float64         `json:"distanceKm"`
	Driver     *domain.Driver  `json:"-"`
}

// CandidateFinder selects the drivers a booking is offered to.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, pickup domain.Location, filter CandidateFilter) ([]Candidate, error)
}

// Ensure MatchingService implements CandidateFinder.
var _ CandidateFinder = (*MatchingService)(nil)

// MatchingService ranks eligible drivers around a pickup point.
type MatchingService struct {
	locationStore redis.LocationStoreInterface
	cacheStore    redis.DriverCacheInterface
	driverRepo    repository.DriverRepository
	userRepo      repository.UserRepository
	cfg           MatchingConfig
	logTags       log.Fields
}

// NewMatchingService creates a new MatchingService. cacheStore may be nil.
func NewMatchingService(
	locationStore redis.LocationStoreInterface,
	cacheStore redis.DriverCacheInterface,
	driverRepo repository.DriverRepository,
	userRepo repository.UserRepository,
	cfg MatchingConfig,
) *MatchingService {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = defaultSearchRadiusKm
	}
	if cfg.PinkCaptainRadiusKm <= 0 {
		cfg.PinkCaptainRadiusKm = defaultPinkCaptainRadiusKm
	}
	return &MatchingService{
		locationStore: locationStore,
		cacheStore:    cacheStore,
		driverRepo:    driverRepo,
		userRepo:      userRepo,
		cfg:           cfg,
		logTags:       log.Fields{"module": "service", "component": "matching"},
	}
}

// FindCandidates returns the eligible drivers for pickup, nearest first.
// Drivers at equal distance keep the order the geo index returned them in.
func (s *MatchingService) FindCandidates(ctx context.Context, pickup domain.Location, filter CandidateFilter) ([]Candidate, error) {
	if filter.Preference.Mode == domain.PreferencePinned {
		return s.findPinned(ctx, pickup, filter)
	}

	nearby, err := s.locationStore.QueryNearby(ctx, pickup.Lat, pickup.Lng, s.radiusFor(filter))
	if err != nil {
		return nil, fmt.Errorf("query nearby drivers: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	var allowed map[string]struct{}
	if filter.Preference.Mode == domain.PreferenceFavorite {
		allowed, err = s.favorites(ctx, filter.RequesterID)
		if err != nil {
			return nil, err
		}
		if len(allowed) == 0 {
			return nil, nil
		}
	}

	ids := make([]string, 0, len(nearby))
	for _, loc := range nearby {
		if allowed != nil {
			if _, ok := allowed[loc.DriverID]; !ok {
				continue
			}
		}
		ids = append(ids, loc.DriverID)
	}

	drivers, err := s.loadDrivers(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(ids))
	for _, loc := range nearby {
		driver, ok := drivers[loc.DriverID]
		if !ok || !s.eligible(driver, filter) {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:   loc.DriverID,
			Location:   domain.Location{Lat: loc.Lat, Lng: loc.Lng},
			DistanceKm: loc.DistanceKm,
			Driver:     driver,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})

	log.WithFields(s.logTags).WithFields(log.Fields{
		"mode": filter.Preference.Mode, "nearby": len(nearby), "eligible": len(candidates),
	}).Debug("Candidates selected")

	return candidates, nil
}

// findPinned returns the pinned driver alone when it is eligible, skipping the radius search.
func (s *MatchingService) findPinned(ctx context.Context, pickup domain.Location, filter CandidateFilter) ([]Candidate, error) {
	id := filter.Preference.PinnedDriverID
	if id == "" {
		return nil, nil
	}

	drivers, err := s.loadDrivers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	driver, ok := drivers[id]
	if !ok || !s.eligible(driver, filter) {
		return nil, nil
	}

	pos, err := s.locationStore.Position(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("locate pinned driver: %w", err)
	}
	if pos == nil {
		return nil, nil
	}

	loc := domain.Location{Lat: pos.Lat, Lng: pos.Lng}
	return []Candidate{{
		DriverID:   id,
		Location:   loc,
		DistanceKm: DistanceKm(loc, pickup),
		Driver:     driver,
	}}, nil
}

func (s *MatchingService) radiusFor(filter CandidateFilter) float64 {
	if filter.RadiusKm > 0 {
		return filter.RadiusKm
	}
	if filter.Preference.Mode == domain.PreferencePinkCaptain {
		return s.cfg.PinkCaptainRadiusKm
	}
	return s.cfg.DefaultRadiusKm
}

// eligible applies the base filters and the preference-specific ones.
func (s *MatchingService) eligible(d *domain.Driver, filter CandidateFilter) bool {
	if !d.IsActive() {
		return false
	}
	if d.KYCLevel < s.cfg.MinKYCLevel {
		return false
	}
	if filter.VehicleType != "" && d.VehicleType != filter.VehicleType {
		return false
	}

	if filter.Preference.Mode == domain.PreferencePinkCaptain {
		if d.Gender != domain.GenderFemale || !d.AcceptsPinkCaptain {
			return false
		}
		opts := filter.Preference.PinkCaptain
		if opts.FamilyRide && !d.AcceptsFamilyRides {
			return false
		}
		if opts.NoMaleCompanion && !d.AcceptsNoMaleCompanion {
			return false
		}
	}
	return true
}

func (s *MatchingService) favorites(ctx context.Context, userID string) (map[string]struct{}, error) {
	ids, err := s.userRepo.FavoriteDriverIDs(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load favorite drivers: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// loadDrivers reads drivers through the cache, falling back to the store for misses.
func (s *MatchingService) loadDrivers(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	result := make(map[string]*domain.Driver, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	missing := ids
	if s.cacheStore != nil {
		cached, miss, err := s.cacheStore.GetDriversBatch(ctx, ids)
		if err != nil {
			log.WithError(err).WithFields(s.logTags).Warn("Driver cache unavailable, reading from store")
		} else {
			for id, c := range cached {
				result[id] = fromCachedDriver(c)
			}
			missing = miss
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := s.driverRepo.GetByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}

	toCache := make([]*redis.CachedDriver, 0, len(fetched))
	for _, d := range fetched {
		result[d.ID] = d
		toCache = append(toCache, toCachedDriver(d))
	}
	if s.cacheStore != nil && len(toCache) > 0 {
		if err := s.cacheStore.SetDriversBatch(ctx, toCache); err != nil {
			log.WithError(err).WithFields(s.logTags).Debug("Failed to cache drivers")
		}
	}

	return result, nil
}
