// Package locks coordinates exclusive access to physical lab assets. The
// single source of truth is a shared store with atomic set-if-absent and
// compare-and-delete; no in-process mutex guards the acquire path, because it
// could not protect against a second process.
package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AssetType classifies lockable entities.
type AssetType string

const (
	AssetTypeMachine  AssetType = "machine"
	AssetTypeResource AssetType = "resource"
)

// LockKeyPrefix namespaces lock keys in the shared store.
const LockKeyPrefix = "lock:"

var (
	// ErrInvalidAsset marks a malformed asset identity, rejected before any
	// store round trip.
	ErrInvalidAsset = errors.New("invalid asset identity")

	// ErrInvalidOwner marks an owner id that is not a UUID.
	ErrInvalidOwner = errors.New("invalid owner id")

	// ErrInvalidReservation marks a reservation id that is not a UUID.
	ErrInvalidReservation = errors.New("invalid reservation id")
)

// ParseAssetType validates a caller-supplied asset type string.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(strings.TrimSpace(s)) {
	case AssetTypeMachine:
		return AssetTypeMachine, nil
	case AssetTypeResource:
		return AssetTypeResource, nil
	default:
		return "", fmt.Errorf("%w: unknown asset type %q", ErrInvalidAsset, s)
	}
}

// AssetIdentity is the composite key naming a lockable entity.
type AssetIdentity struct {
	Type AssetType
	Name string
}

// NewAssetIdentity validates and builds an identity from raw strings.
func NewAssetIdentity(assetType, assetName string) (AssetIdentity, error) {
	parsed, err := ParseAssetType(assetType)
	if err != nil {
		return AssetIdentity{}, err
	}
	name := strings.TrimSpace(assetName)
	if name == "" || strings.Contains(name, ":") {
		return AssetIdentity{}, fmt.Errorf("%w: bad asset name %q", ErrInvalidAsset, assetName)
	}
	return AssetIdentity{Type: parsed, Name: name}, nil
}

func (a AssetIdentity) String() string {
	return string(a.Type) + ":" + a.Name
}

// LockKey returns the shared-store key for this identity.
func (a AssetIdentity) LockKey() string {
	return LockKeyPrefix + a.String()
}

// AssetFromLockKey inverts LockKey; used when rebuilding from a store scan.
func AssetFromLockKey(key string) (AssetIdentity, error) {
	rest, ok := strings.CutPrefix(key, LockKeyPrefix)
	if !ok {
		return AssetIdentity{}, fmt.Errorf("%w: key %q lacks prefix", ErrInvalidAsset, key)
	}
	typePart, name, ok := strings.Cut(rest, ":")
	if !ok {
		return AssetIdentity{}, fmt.Errorf("%w: malformed key %q", ErrInvalidAsset, key)
	}
	return NewAssetIdentity(typePart, name)
}

// LockRecord captures one held lease. Records are immutable: a lock is either
// present or absent, never partially updated.
type LockRecord struct {
	Asset         AssetIdentity
	ReservationID string
	OwnerID       string
	AcquiredAt    time.Time

	// ExpiresAt zero means no lease: the lock never expires on its own and is
	// only reclaimable via release or the staleness sweep.
	ExpiresAt time.Time

	RequiredCapabilities map[string]any
}

// Expired reports whether the lease has lapsed at the given instant. A lock
// past its lease is considered released even before the store evicts the key.
func (r *LockRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store exposes the atomic primitives of the shared key-value store. All
// cross-process synchronization lives behind this interface.
type Store interface {
	// TrySetWithLease atomically stores the record only if the asset is free.
	// ttl zero means no automatic expiry.
	TrySetWithLease(ctx context.Context, rec *LockRecord, ttl time.Duration) (bool, error)

	// Get returns the current record for an asset, or nil when the asset is
	// free or its lease has lapsed. Never mutates state.
	Get(ctx context.Context, asset AssetIdentity) (*LockRecord, error)

	// CompareAndDelete removes the lock only if the stored reservation id
	// matches the presented one, so a stale caller cannot evict a lock that
	// was re-acquired after its own lease lapsed.
	CompareAndDelete(ctx context.Context, asset AssetIdentity, reservationID string) (bool, error)

	// ScanLocks enumerates every stored lock record, including lapsed ones,
	// invoking fn for each. Records that cannot be decoded are logged and
	// skipped, so one bad key cannot abort a sweep; the skip count is
	// returned. O(n); reserved for cleanup, status and index rebuild, never
	// the acquire/release hot path.
	ScanLocks(ctx context.Context, fn func(*LockRecord) error) (int, error)

	Close() error
}
