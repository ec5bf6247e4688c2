package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"recovery/internal/domain"
	"recovery/internal/redis"
	"recovery/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK DRIVER REPOSITORY
// ──────────────────────────────────────────────

// MockDriverRepository is a mock implementation of DriverRepository.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver

	// Counters for verification
	GetByIDsCallCount     int32
	UpdateStatusCallCount int32

	// Error injection
	GetError          error
	UpdateStatusError error
}

// NewMockDriverRepository creates a new mock driver repository.
func NewMockDriverRepository() *MockDriverRepository {
	return &MockDriverRepository{
		drivers: make(map[string]*domain.Driver),
	}
}

// AddDriver adds a driver to the mock repository.
func (m *MockDriverRepository) AddDriver(driver *domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	driver, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *driver
	return &copy, nil
}

func (m *MockDriverRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Driver, error) {
	atomic.AddInt32(&m.GetByIDsCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Driver, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.drivers[id]; ok {
			copy := *d
			result = append(result, &copy)
		}
	}
	return result, nil
}

func (m *MockDriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	driver.Status = status
	return nil
}

// StatusOf returns the driver's status for test assertions.
func (m *MockDriverRepository) StatusOf(id string) domain.DriverStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.drivers[id]; ok {
		return d.Status
	}
	return ""
}

// ──────────────────────────────────────────────
// MOCK BOOKING REPOSITORY
// ──────────────────────────────────────────────

// MockBookingRepository is a mock implementation of BookingRepository.
type MockBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*domain.Booking

	// Counters for verification
	CreateCallCount int32
	SaveCallCount   int32

	// Error injection
	CreateError error
	SaveError   error
	failSaves   int
	failErr     error
}

// NewMockBookingRepository creates a new mock booking repository.
func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{
		bookings: make(map[string]*domain.Booking),
	}
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bookings[booking.ID]; !exists {
		m.bookings[booking.ID] = booking.Clone()
	}
	return nil
}

func (m *MockBookingRepository) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MockBookingRepository) Save(ctx context.Context, booking *domain.Booking) error {
	atomic.AddInt32(&m.SaveCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return m.SaveError
	}
	if m.failSaves > 0 {
		m.failSaves--
		return m.failErr
	}
	m.bookings[booking.ID] = booking.Clone()
	return nil
}

// SetSaveError switches save failures on or off.
func (m *MockBookingRepository) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveError = err
}

// FailNextSaves makes the next n saves return err.
func (m *MockBookingRepository) FailNextSaves(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = n
	m.failErr = err
}

// All returns every stored booking for assertions.
func (m *MockBookingRepository) All() []*domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, b.Clone())
	}
	return out
}

// GetBooking returns the stored booking for assertions.
func (m *MockBookingRepository) GetBooking(id string) *domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bookings[id]; ok {
		return b.Clone()
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK USER REPOSITORY
// ──────────────────────────────────────────────

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mu        sync.RWMutex
	users     map[string]*domain.User
	favorites map[string][]string
}

// NewMockUserRepository creates a new mock user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:     make(map[string]*domain.User),
		favorites: make(map[string][]string),
	}
}

// SetFavorites sets a user's favorite drivers.
func (m *MockUserRepository) SetFavorites(userID string, driverIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.favorites[userID] = driverIDs
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (m *MockUserRepository) FavoriteDriverIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.favorites[userID]...), nil
}

// ──────────────────────────────────────────────
// MOCK PRICING REPOSITORY
// ──────────────────────────────────────────────

// MockPricingRepository is a mock implementation of PricingRepository.
type MockPricingRepository struct {
	mu       sync.RWMutex
	policies map[string]domain.CancellationPolicy
	waiting  map[string]domain.WaitingChargeConfig
	charges  map[string]float64

	// Error injection
	PolicyError error
}

// NewMockPricingRepository creates a new mock pricing repository.
func NewMockPricingRepository() *MockPricingRepository {
	return &MockPricingRepository{
		policies: make(map[string]domain.CancellationPolicy),
		waiting:  make(map[string]domain.WaitingChargeConfig),
		charges:  make(map[string]float64),
	}
}

// SetPolicy sets the cancellation policy of a service type.
func (m *MockPricingRepository) SetPolicy(serviceType string, policy domain.CancellationPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[serviceType] = policy
}

// SetWaiting sets the waiting charge config of a service type.
func (m *MockPricingRepository) SetWaiting(serviceType string, cfg domain.WaitingChargeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting[serviceType] = cfg
}

// SetServiceCharge sets the base charge of a service type.
func (m *MockPricingRepository) SetServiceCharge(serviceType string, charge float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[serviceType] = charge
}

func (m *MockPricingRepository) GetCancellationPolicy(ctx context.Context, serviceType string) (*domain.CancellationPolicy, error) {
	if m.PolicyError != nil {
		return nil, m.PolicyError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[serviceType]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *MockPricingRepository) GetWaitingChargeConfig(ctx context.Context, serviceType string) (*domain.WaitingChargeConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.waiting[serviceType]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *MockPricingRepository) GetServiceCharge(ctx context.Context, serviceType string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[serviceType]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return c, nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStore.
// QueryNearby returns the stored entries within the radius in insertion order,
// using each entry's preset DistanceKm.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations []redis.DriverLocation

	// Counters
	UpdateLocationCallCount int32
	QueryNearbyCallCount    int32

	// Error injection
	UpdateLocationError error
	QueryNearbyError    error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make([]redis.DriverLocation, 0),
	}
}

// SetLocations sets all locations (for test setup).
func (m *MockLocationStore) SetLocations(locations ...redis.DriverLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = locations
}

// AddLocation appends one location (for test setup).
func (m *MockLocationStore) AddLocation(loc redis.DriverLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, loc)
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdateLocationCallCount, 1)
	if m.UpdateLocationError != nil {
		return m.UpdateLocationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Update existing or add new.
	for i, loc := range m.locations {
		if loc.DriverID == driverID {
			m.locations[i].Lat = lat
			m.locations[i].Lng = lng
			return nil
		}
	}
	m.locations = append(m.locations, redis.DriverLocation{
		DriverID: driverID,
		Lat:      lat,
		Lng:      lng,
	})
	return nil
}

func (m *MockLocationStore) QueryNearby(ctx context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	atomic.AddInt32(&m.QueryNearbyCallCount, 1)
	if m.QueryNearbyError != nil {
		return nil, m.QueryNearbyError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]redis.DriverLocation, 0, len(m.locations))
	for _, loc := range m.locations {
		if loc.DistanceKm <= radiusKm {
			result = append(result, loc)
		}
	}
	return result, nil
}

func (m *MockLocationStore) Position(ctx context.Context, driverID string) (*redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, loc := range m.locations {
		if loc.DriverID == driverID {
			copy := loc
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, loc := range m.locations {
		if loc.DriverID == driverID {
			m.locations = append(m.locations[:i], m.locations[i+1:]...)
			return nil
		}
	}
	return nil
}

// HasLocation checks if a driver location exists.
func (m *MockLocationStore) HasLocation(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, loc := range m.locations {
		if loc.DriverID == driverID {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string
	ttls  map[string]time.Duration

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
		ttls:  make(map[string]time.Duration),
	}
}

func (m *MockLockStore) AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if holder, exists := m.locks[driverID]; exists {
		return holder == owner, nil
	}
	m.locks[driverID] = owner
	m.ttls[driverID] = ttl
	return true, nil
}

func (m *MockLockStore) ReleaseDriverLock(ctx context.Context, driverID, owner string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[driverID] == owner {
		delete(m.locks, driverID)
		delete(m.ttls, driverID)
	}
	return nil
}

// Hold reserves a driver for another owner (for test setup).
func (m *MockLockStore) Hold(driverID, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[driverID] = owner
}

// TTLOf returns the ttl the current lock on a driver was taken with.
func (m *MockLockStore) TTLOf(driverID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[driverID]
}

// IsLocked checks if a driver is locked (for test assertions).
func (m *MockLockStore) IsLocked(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.locks[driverID]
	return exists
}

// ──────────────────────────────────────────────
// MOCK DRIVER CACHE
// ──────────────────────────────────────────────

// MockDriverCache is a mock implementation of the driver cache.
type MockDriverCache struct {
	mu      sync.Mutex
	drivers map[string]*redis.CachedDriver

	// Counters
	SetCallCount        int32
	InvalidateCallCount int32

	// Error injection
	GetError error
}

// NewMockDriverCache creates a new mock driver cache.
func NewMockDriverCache() *MockDriverCache {
	return &MockDriverCache{
		drivers: make(map[string]*redis.CachedDriver),
	}
}

func (m *MockDriverCache) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*redis.CachedDriver, []string, error) {
	if m.GetError != nil {
		return nil, nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string]*redis.CachedDriver)
	var missing []string
	for _, id := range driverIDs {
		if d, ok := m.drivers[id]; ok {
			copy := *d
			found[id] = &copy
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (m *MockDriverCache) SetDriversBatch(ctx context.Context, drivers []*redis.CachedDriver) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range drivers {
		copy := *d
		m.drivers[d.ID] = &copy
	}
	return nil
}

func (m *MockDriverCache) InvalidateDriver(ctx context.Context, driverID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
	return nil
}

// Cached reports whether a driver is cached (for test assertions).
func (m *MockDriverCache) Cached(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.drivers[driverID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK REPLY CACHE
// ──────────────────────────────────────────────

// MockReplyCache is a mock implementation of the event reply cache.
type MockReplyCache struct {
	mu      sync.Mutex
	replies map[string][]byte

	// Error injection
	GetError error

	// Counters
	SetCallCount int32
}

// NewMockReplyCache creates a new mock reply cache.
func NewMockReplyCache() *MockReplyCache {
	return &MockReplyCache{
		replies: make(map[string][]byte),
	}
}

func (m *MockReplyCache) GetReply(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, false, m.GetError
	}
	data, ok := m.replies[key]
	return data, ok, nil
}

func (m *MockReplyCache) SetReply(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[key] = data
	return nil
}

// Ensure mocks implement the collaborator interfaces.
var (
	_ repository.DriverRepository  = (*MockDriverRepository)(nil)
	_ repository.BookingRepository = (*MockBookingRepository)(nil)
	_ repository.UserRepository    = (*MockUserRepository)(nil)
	_ repository.PricingRepository = (*MockPricingRepository)(nil)
	_ redis.LocationStoreInterface = (*MockLocationStore)(nil)
	_ redis.LockStoreInterface     = (*MockLockStore)(nil)
	_ redis.DriverCacheInterface   = (*MockDriverCache)(nil)
	_ redis.ReplyCacheInterface    = (*MockReplyCache)(nil)
)

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: unique constraint violation")
	ErrMockTimeout      = errors.New("mock: operation timeout")
)
