package redis

import (
	"context"
	"time"
)

// LocationStoreInterface defines the interface for driver location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error
	QueryNearby(ctx context.Context, lat, lng, radiusKm float64) ([]DriverLocation, error)
	Position(ctx context.Context, driverID string) (*DriverLocation, error)
	RemoveLocation(ctx context.Context, driverID string) error
}

// LockStoreInterface defines the interface for driver reservation locks.
type LockStoreInterface interface {
	AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error)
	ReleaseDriverLock(ctx context.Context, driverID, owner string) error
}

// DriverCacheInterface defines the interface for cached driver lookups.
type DriverCacheInterface interface {
	GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error)
	SetDriversBatch(ctx context.Context, drivers []*CachedDriver) error
	InvalidateDriver(ctx context.Context, driverID string) error
}

// ReplyCacheInterface defines the interface for replaying event replies.
type ReplyCacheInterface interface {
	GetReply(ctx context.Context, key string) ([]byte, bool, error)
	SetReply(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ DriverCacheInterface   = (*CacheStore)(nil)
	_ ReplyCacheInterface    = (*CacheStore)(nil)
)
