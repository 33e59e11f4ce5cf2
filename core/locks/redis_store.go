package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wetbench/wetbench/core/infra/logging"
	"github.com/wetbench/wetbench/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	opTimeout       = 2 * time.Second
	scanBatch       = 100
)

// RedisStore implements Store on a shared Redis deployment. The stored value
// is the JSON-encoded lock record; compare-and-delete matches on the
// reservation id field alone.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore dials Redis at the given URL and verifies connectivity.
func NewRedisStore(url string) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// TrySetWithLease acquires via a single SET NX round trip.
func (s *RedisStore) TrySetWithLease(ctx context.Context, rec *LockRecord, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	if rec == nil {
		return false, fmt.Errorf("nil lock record")
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	ok, err := s.client.SetNX(cctx, rec.Asset.LockKey(), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set lock %s: %w", rec.Asset, err)
	}
	return ok, nil
}

// Get reads the current record; a lapsed lease reads as absent even when the
// store has not evicted the key yet.
func (s *RedisStore) Get(ctx context.Context, asset AssetIdentity) (*LockRecord, error) {
	rec, err := s.getRaw(ctx, asset.LockKey())
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return rec, nil
}

// compareAndDeleteScript deletes the key only when the stored record carries
// the presented reservation id.
const compareAndDeleteScript = `
local payload = redis.call("GET", KEYS[1])
if not payload then
  return 0
end
local lock = cjson.decode(payload)
if lock["reservation_id"] == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

// CompareAndDelete removes the lock if and only if the reservation matches.
func (s *RedisStore) CompareAndDelete(ctx context.Context, asset AssetIdentity, reservationID string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.client.Eval(cctx, compareAndDeleteScript, []string{asset.LockKey()}, reservationID).Result()
	if err != nil {
		return false, fmt.Errorf("delete lock %s: %w", asset, err)
	}
	deleted, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("delete lock %s: unexpected reply %T", asset, res)
	}
	return deleted == 1, nil
}

// ScanLocks enumerates all lock keys via cursor SCAN. Keys that vanish
// mid-scan are skipped silently; a corrupt payload or malformed key is
// logged and counted but never aborts the enumeration.
func (s *RedisStore) ScanLocks(ctx context.Context, fn func(*LockRecord) error) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("lock store unavailable")
	}
	skipped := 0
	var cursor uint64
	for {
		cctx, cancel := opContext(ctx)
		keys, next, err := s.client.Scan(cctx, cursor, LockKeyPrefix+"*", scanBatch).Result()
		cancel()
		if err != nil {
			return skipped, fmt.Errorf("scan locks: %w", err)
		}
		for _, key := range keys {
			rec, err := s.getRaw(ctx, key)
			if err != nil {
				skipped++
				logging.Warn("locks", "skip undecodable lock record", "key", key, "err", err)
				continue
			}
			if rec == nil {
				continue
			}
			if err := fn(rec); err != nil {
				return skipped, err
			}
		}
		cursor = next
		if cursor == 0 {
			return skipped, nil
		}
	}
}

func (s *RedisStore) getRaw(ctx context.Context, key string) (*LockRecord, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	payload, err := s.client.Get(cctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock %s: %w", key, err)
	}
	return decodeRecord(key, payload)
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
}

type lockPayload struct {
	ReservationID        string         `json:"reservation_id"`
	OwnerID              string         `json:"owner_id"`
	AcquiredAt           int64          `json:"acquired_at"`
	ExpiresAt            int64          `json:"expires_at,omitempty"`
	RequiredCapabilities map[string]any `json:"required_capabilities,omitempty"`
}

func encodeRecord(rec *LockRecord) (string, error) {
	payload := lockPayload{
		ReservationID:        rec.ReservationID,
		OwnerID:              rec.OwnerID,
		AcquiredAt:           rec.AcquiredAt.Unix(),
		RequiredCapabilities: rec.RequiredCapabilities,
	}
	if !rec.ExpiresAt.IsZero() {
		payload.ExpiresAt = rec.ExpiresAt.Unix()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode lock %s: %w", rec.Asset, err)
	}
	return string(data), nil
}

func decodeRecord(key, payload string) (*LockRecord, error) {
	asset, err := AssetFromLockKey(key)
	if err != nil {
		return nil, err
	}
	var decoded lockPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode lock %s: %w", key, err)
	}
	rec := &LockRecord{
		Asset:                asset,
		ReservationID:        decoded.ReservationID,
		OwnerID:              decoded.OwnerID,
		RequiredCapabilities: decoded.RequiredCapabilities,
	}
	if decoded.AcquiredAt > 0 {
		rec.AcquiredAt = time.Unix(decoded.AcquiredAt, 0).UTC()
	}
	if decoded.ExpiresAt > 0 {
		rec.ExpiresAt = time.Unix(decoded.ExpiresAt, 0).UTC()
	}
	return rec, nil
}
