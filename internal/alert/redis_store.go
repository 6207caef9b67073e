package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
)

// Redis key schema. The index set lets GetAll enumerate without KEYS.
const (
	alertKeyPrefix = "alert"
	lockKeyPrefix  = "lock:alert"
	alertIndexKey  = "alerts:index"

	// expiredRetention keeps a value in Redis past the alert TTL so an
	// approval arriving just after the deadline pops the payload and is
	// told "expired" instead of "not found". The sweeper and the Redis
	// key TTL remove the value afterwards.
	expiredRetention = 10 * time.Minute
)

// RedisStore is the shared Store backend. Values are JSON under alert:{id};
// PopAtomic serializes consumers through a SETNX lock under lock:alert:{id}.
// Expiry is logical, judged against the payload's CreatedAt; the Redis key
// TTL is only a backstop set past the alert TTL.
type RedisStore struct {
	client *redis.Client
	log    *logging.Logger

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewRedisStore creates a Redis-backed alert store.
func NewRedisStore(client *redis.Client, log *logging.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		log:    log.WithComponent("alert-store"),
		now:    time.Now,
	}
}

func alertKey(id string) string { return fmt.Sprintf("%s:%s", alertKeyPrefix, id) }
func lockKey(id string) string  { return fmt.Sprintf("%s:%s", lockKeyPrefix, id) }

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, a *Info) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert %s: %w", a.AlertID, err)
	}
	if err := s.client.Set(ctx, alertKey(a.AlertID), data, TTL+expiredRetention).Err(); err != nil {
		return fmt.Errorf("storing alert %s: %w", a.AlertID, err)
	}
	// Index membership is best effort; GetAll tolerates stale entries.
	if err := s.client.SAdd(ctx, alertIndexKey, a.AlertID).Err(); err != nil {
		s.log.Warn("failed to index alert", "alert_id", a.AlertID, "error", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Info, error) {
	data, err := s.client.Get(ctx, alertKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading alert %s: %w", id, err)
	}

	var a Info
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding alert %s: %w", id, err)
	}
	if a.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &a, nil
}

// Pop implements Store: GETDEL makes read-and-remove a single round trip.
// Expired alerts still in retention pop normally; the caller classifies.
func (s *RedisStore) Pop(ctx context.Context, id string) (*Info, error) {
	data, err := s.client.GetDel(ctx, alertKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("popping alert %s: %w", id, err)
	}
	s.client.SRem(ctx, alertIndexKey, id)

	var a Info
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding alert %s: %w", id, err)
	}
	return &a, nil
}

// PopAtomic implements Store. The per-alert lock guarantees at most one
// in-flight consumer; a contending caller gets ErrNotFound rather than
// blocking, matching at-most-once delivery.
func (s *RedisStore) PopAtomic(ctx context.Context, id string) (*Info, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(id), "1", LockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for alert %s: %w", id, err)
	}
	if !acquired {
		return nil, ErrNotFound
	}
	defer func() {
		if err := s.client.Del(context.WithoutCancel(ctx), lockKey(id)).Err(); err != nil {
			s.log.Warn("failed to release alert lock", "alert_id", id, "error", err)
		}
	}()

	return s.Pop(ctx, id)
}

// Delete implements Store, reporting whether an alert was present.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, alertKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting alert %s: %w", id, err)
	}
	s.client.SRem(ctx, alertIndexKey, id)
	return n > 0, nil
}

// GetAll implements Store. Index entries whose value has already expired are
// pruned as a side effect.
func (s *RedisStore) GetAll(ctx context.Context) ([]*Info, error) {
	ids, err := s.client.SMembers(ctx, alertIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}

	out := make([]*Info, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, alertIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Sweep prunes alerts past their TTL: expired values still in retention are
// deleted, and index entries whose values are gone are dropped so the index
// set cannot grow unbounded.
func (s *RedisStore) Sweep(ctx context.Context) int {
	ids, err := s.client.SMembers(ctx, alertIndexKey).Result()
	if err != nil {
		s.log.Warn("sweep failed to list alerts", "error", err)
		return 0
	}

	now := s.now()
	removed := 0
	for _, id := range ids {
		data, err := s.client.Get(ctx, alertKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, alertIndexKey, id)
			removed++
			continue
		}
		if err != nil {
			continue
		}

		var a Info
		if err := json.Unmarshal(data, &a); err != nil || a.Expired(now) {
			s.client.Del(ctx, alertKey(id))
			s.client.SRem(ctx, alertIndexKey, id)
			removed++
		}
	}
	return removed
}

// NewRedisClient dials Redis with the connection settings used across the
// system and verifies connectivity before returning.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

var _ Store = (*RedisStore)(nil)
