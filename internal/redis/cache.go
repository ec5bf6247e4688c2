package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// DriverCacheTTL bounds how stale a cached driver status can be.
const DriverCacheTTL = 30 * time.Second

// Key prefixes
const (
	driverCachePrefix = "cache:driver:"
	replyCachePrefix  = "reply:"
)

// CachedDriver represents a cached driver entity.
type CachedDriver struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Phone                  string `json:"phone"`
	Status                 string `json:"status"`
	VehicleType            string `json:"vehicle_type"`
	PlateNumber            string `json:"plate_number"`
	KYCLevel               int    `json:"kyc_level"`
	Gender                 string `json:"gender"`
	AcceptsPinkCaptain     bool   `json:"accepts_pink_captain"`
	AcceptsFamilyRides     bool   `json:"accepts_family_rides"`
	AcceptsNoMaleCompanion bool   `json:"accepts_no_male_companion"`
}

// InvalidateDriver removes a driver from cache.
func (s *CacheStore) InvalidateDriver(ctx context.Context, driverID string) error {
	key := driverCachePrefix + driverID
	return s.client.Del(ctx, key).Err()
}

// GetDriversBatch retrieves multiple drivers from cache using pipeline.
// Returns a map of driverID -> CachedDriver, and a slice of missing IDs.
func (s *CacheStore) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error) {
	if len(driverIDs) == 0 {
		return make(map[string]*CachedDriver), nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(driverIDs))
	for i, id := range driverIDs {
		cmds[i] = pipe.Get(ctx, driverCachePrefix+id)
	}

	// Missing keys surface as redis.Nil on the individual commands.
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}

	result := make(map[string]*CachedDriver)
	var missing []string

	for i, cmd := range cmds {
		id := driverIDs[i]
		data, err := cmd.Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}

		var driver CachedDriver
		if err := json.Unmarshal(data, &driver); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &driver
	}

	return result, missing, nil
}

// SetDriversBatch stores multiple drivers in cache using pipeline.
func (s *CacheStore) SetDriversBatch(ctx context.Context, drivers []*CachedDriver) error {
	if len(drivers) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()

	for _, driver := range drivers {
		data, err := json.Marshal(driver)
		if err != nil {
			continue // Skip invalid entries
		}
		pipe.Set(ctx, driverCachePrefix+driver.ID, data, DriverCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetReply returns a previously stored event reply.
func (s *CacheStore) GetReply(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, replyCachePrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SetReply stores an event reply for later replay.
func (s *CacheStore) SetReply(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, replyCachePrefix+key, data, ttl).Err()
}
