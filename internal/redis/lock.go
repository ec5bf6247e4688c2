package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore reserves drivers while a booking is offered to them.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireDriverLock attempts to reserve the driver for owner (a booking ID).
// Returns true if the lock was acquired or is already held by owner.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:driver:%s", driverID)

	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}

	return holder == owner, nil
}

// ReleaseDriverLock releases the driver if owner still holds it.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID, owner string) error {
	key := fmt.Sprintf("lock:driver:%s", driverID)

	return releaseScript.Run(ctx, s.client, []string{key}, owner).Err()
}
