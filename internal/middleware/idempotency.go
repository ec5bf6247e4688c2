package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/apex/log"

	"recovery/internal/realtime"
	"recovery/internal/redis"
)

// DefaultIdempotencyTTL is how long a reply stays replayable.
const DefaultIdempotencyTTL = 10 * time.Minute

// Idempotent replays the stored reply when a session retransmits an envelope
// for one of events: same requestId and byte-identical data. A requestId is
// only a correlation id, so a recycled id on another connection or with
// another payload reaches the handler. Only successful replies are stored;
// envelopes without a requestId pass straight through. Cache failures
// degrade to normal handling.
func Idempotent(cache redis.ReplyCacheInterface, ttl time.Duration, events ...realtime.Event) realtime.Middleware {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	guarded := make(map[realtime.Event]struct{}, len(events))
	for _, e := range events {
		guarded[e] = struct{}{}
	}
	logTags := log.Fields{"module": "middleware", "component": "idempotency"}

	return func(event realtime.Event, next realtime.HandlerFunc) realtime.HandlerFunc {
		if _, ok := guarded[event]; !ok || cache == nil {
			return next
		}
		return func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
			if env.RequestID == "" {
				return next(ctx, s, env)
			}
			key := replyKey(s.ID(), event, env.RequestID, env.Data)

			cached, found, err := cache.GetReply(ctx, key)
			if err != nil {
				log.WithError(err).WithFields(logTags).WithField("key", key).Warn("Reply lookup failed")
			} else if found {
				log.WithFields(logTags).WithField("key", key).Debug("Replaying stored reply")
				return json.RawMessage(cached), nil
			}

			result, err := next(ctx, s, env)
			if err != nil || result == nil {
				return result, err
			}

			data, merr := json.Marshal(result)
			if merr != nil {
				log.WithError(merr).WithFields(logTags).WithField("key", key).Warn("Reply not storable")
				return result, nil
			}
			if serr := cache.SetReply(ctx, key, data, ttl); serr != nil {
				log.WithError(serr).WithFields(logTags).WithField("key", key).Warn("Failed to store reply")
			}
			return result, nil
		}
	}
}

func replyKey(sessionID string, event realtime.Event, requestID string, data json.RawMessage) string {
	sum := sha256.Sum256(data)
	return sessionID + ":" + string(event) + ":" + requestID + ":" + hex.EncodeToString(sum[:8])
}
