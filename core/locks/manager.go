package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wetbench/wetbench/core/assets"
	"github.com/wetbench/wetbench/core/infra/bus"
	"github.com/wetbench/wetbench/core/infra/logging"
	"github.com/wetbench/wetbench/core/infra/metrics"
)

const (
	logComponent = "locks"

	defaultStaleAfter    = 24 * time.Hour
	defaultSweepInterval = 60 * time.Second
)

// SystemStatus is a read-only diagnostic aggregate for operational tooling.
type SystemStatus struct {
	ActiveLocks        int `json:"active_locks"`
	ActiveReservations int `json:"active_reservations"`
	TrackedOwners      int `json:"tracked_owners"`
}

// Manager grants, verifies, releases and garbage-collects exclusive leases on
// asset identities. Every public operation is one bounded store round trip:
// there is no wait-for-lock mode, no internal retry, and no in-process mutex
// across the acquire boundary.
type Manager struct {
	store   Store
	index   *ReservationIndex
	matcher assets.Matcher
	metrics metrics.LockMetrics
	events  bus.Publisher

	staleAfter    time.Duration
	sweepInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithMatcher installs the capability matching policy run before acquire.
func WithMatcher(m assets.Matcher) Option {
	return func(mgr *Manager) { mgr.matcher = m }
}

// WithMetrics installs a metrics sink.
func WithMetrics(m metrics.LockMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithEvents installs a lock event publisher.
func WithEvents(p bus.Publisher) Option {
	return func(mgr *Manager) { mgr.events = p }
}

// WithStaleAfter sets the staleness horizon for reclaiming lease-less locks.
func WithStaleAfter(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.staleAfter = d
		}
	}
}

// WithSweepInterval sets the period of the background cleanup loop.
func WithSweepInterval(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.sweepInterval = d
		}
	}
}

// NewManager builds a Manager on the given store.
func NewManager(store Store, opts ...Option) *Manager {
	mgr := &Manager{
		store:         store,
		index:         NewReservationIndex(),
		metrics:       metrics.Noop{},
		events:        bus.Noop{},
		staleAfter:    defaultStaleAfter,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// NewReservationID returns a fresh unforgeable reservation token.
func NewReservationID() string {
	return uuid.NewString()
}

// AcquireAssetLock attempts to take the exclusive lease on an asset.
// Contention returns (false, nil): it is an ordinary outcome, and retry or
// backoff policy belongs to the caller. leaseSeconds zero means no lease; the
// lock then only falls to an explicit release or the staleness sweep.
func (m *Manager) AcquireAssetLock(ctx context.Context, assetType, assetName, ownerID, reservationID string, leaseSeconds int, required map[string]any) (bool, error) {
	asset, err := NewAssetIdentity(assetType, assetName)
	if err != nil {
		return false, err
	}
	if _, err := uuid.Parse(ownerID); err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidOwner, ownerID)
	}
	if _, err := uuid.Parse(reservationID); err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidReservation, reservationID)
	}

	// Capability policy runs before any store contact.
	if m.matcher != nil {
		if err := m.matcher.Match(string(asset.Type), asset.Name, required); err != nil {
			m.metrics.IncDenied(string(asset.Type))
			logging.Info(logComponent, "capability deny", "asset", asset.String(), "owner", ownerID, "reason", err)
			return false, nil
		}
	}

	now := time.Now().UTC()
	rec := &LockRecord{
		Asset:                asset,
		ReservationID:        reservationID,
		OwnerID:              ownerID,
		AcquiredAt:           now,
		RequiredCapabilities: required,
	}
	var ttl time.Duration
	if leaseSeconds > 0 {
		ttl = time.Duration(leaseSeconds) * time.Second
		rec.ExpiresAt = now.Add(ttl)
	}

	ok, err := m.store.TrySetWithLease(ctx, rec, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", asset, err)
	}
	if !ok {
		m.metrics.IncContended(string(asset.Type))
		return false, nil
	}

	m.index.Record(ownerID, reservationID, asset)
	m.metrics.IncAcquired(string(asset.Type))
	m.updateActiveGauge()
	m.publish(bus.EventAcquired, rec)
	logging.Info(logComponent, "lock granted", "asset", asset.String(), "owner", ownerID, "reservation", reservationID, "lease_seconds", leaseSeconds)
	return true, nil
}

// CheckAssetAvailability returns the current lock record, or nil when the
// asset is free. Pure read; callers use it to decide whether to retry.
func (m *Manager) CheckAssetAvailability(ctx context.Context, assetType, assetName string) (*LockRecord, error) {
	asset, err := NewAssetIdentity(assetType, assetName)
	if err != nil {
		return nil, err
	}
	rec, err := m.store.Get(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", asset, err)
	}
	return rec, nil
}

// ReleaseAssetLock releases a lock if the presented reservation still holds
// it. A mismatched or already-absent lock yields (false, nil): double release
// is safe and not an error.
func (m *Manager) ReleaseAssetLock(ctx context.Context, assetType, assetName, reservationID string) (bool, error) {
	asset, err := NewAssetIdentity(assetType, assetName)
	if err != nil {
		return false, err
	}
	if _, err := uuid.Parse(reservationID); err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidReservation, reservationID)
	}

	ok, err := m.store.CompareAndDelete(ctx, asset, reservationID)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", asset, err)
	}
	if !ok {
		m.metrics.IncReleaseMismatch(string(asset.Type))
		return false, nil
	}

	m.index.Forget(reservationID)
	m.metrics.IncReleased(string(asset.Type))
	m.updateActiveGauge()
	m.publish(bus.EventReleased, &LockRecord{Asset: asset, ReservationID: reservationID})
	logging.Info(logComponent, "lock released", "asset", asset.String(), "reservation", reservationID)
	return true, nil
}

// ReleaseAllProtocolLocks sweeps every lease indexed under an owner. It is
// the crash/abort recovery entry point: call it exactly once whenever a
// protocol run terminates, successfully or not. A failure on one lease does
// not block the others; the count actually released is returned.
func (m *Manager) ReleaseAllProtocolLocks(ctx context.Context, ownerID string) (int, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOwner, ownerID)
	}

	released := 0
	for _, lease := range m.index.OwnerLeases(ownerID) {
		ok, err := m.ReleaseAssetLock(ctx, string(lease.Asset.Type), lease.Asset.Name, lease.ReservationID)
		if err != nil {
			logging.Warn(logComponent, "bulk release failed", "asset", lease.Asset.String(), "reservation", lease.ReservationID, "err", err)
			continue
		}
		if ok {
			released++
		} else {
			// The store no longer holds this reservation (lapsed or
			// re-acquired); the index entry is stale either way.
			m.index.Forget(lease.ReservationID)
		}
	}
	m.updateActiveGauge()
	logging.Info(logComponent, "owner swept", "owner", ownerID, "released", released)
	return released, nil
}

// CleanupExpiredLocks scans the whole store and reclaims lapsed leases, plus
// lease-less locks older than the staleness horizon. Per-key failures are
// logged and skipped so one bad record cannot abort the sweep.
func (m *Manager) CleanupExpiredLocks(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	removed := 0
	skipped, err := m.store.ScanLocks(ctx, func(rec *LockRecord) error {
		reason := staleReason(rec, now, m.staleAfter)
		if reason == "" {
			return nil
		}
		ok, err := m.store.CompareAndDelete(ctx, rec.Asset, rec.ReservationID)
		if err != nil {
			m.metrics.IncCleanupErrors()
			logging.Warn(logComponent, "cleanup skip", "asset", rec.Asset.String(), "reservation", rec.ReservationID, "err", err)
			return nil
		}
		m.index.Forget(rec.ReservationID)
		if !ok {
			return nil
		}
		removed++
		m.metrics.IncCleanupRemoved(reason)
		m.publish(bus.EventExpired, rec)
		logging.Info(logComponent, "stale lock reclaimed", "asset", rec.Asset.String(), "owner", rec.OwnerID, "reason", reason)
		return nil
	})
	for i := 0; i < skipped; i++ {
		m.metrics.IncCleanupErrors()
	}
	if err != nil {
		return removed, fmt.Errorf("cleanup sweep: %w", err)
	}
	m.updateActiveGauge()
	return removed, nil
}

// staleReason classifies a record as "expired" (lease lapsed), "orphan"
// (lease-less and past the staleness horizon) or "" (keep).
func staleReason(rec *LockRecord, now time.Time, staleAfter time.Duration) string {
	if rec.Expired(now) {
		return "expired"
	}
	if rec.ExpiresAt.IsZero() && !rec.AcquiredAt.IsZero() && now.Sub(rec.AcquiredAt) > staleAfter {
		return "orphan"
	}
	return ""
}

// GetSystemStatus reports index-derived diagnostics. Not for any
// latency-sensitive path.
func (m *Manager) GetSystemStatus() SystemStatus {
	locks, reservations, owners := m.index.Counts()
	return SystemStatus{
		ActiveLocks:        locks,
		ActiveReservations: reservations,
		TrackedOwners:      owners,
	}
}

// RebuildIndex reconciles the reservation index from a full store scan.
// Called at startup so a restarted instance regains bulk release and status.
func (m *Manager) RebuildIndex(ctx context.Context) error {
	now := time.Now().UTC()
	var records []*LockRecord
	skipped, err := m.store.ScanLocks(ctx, func(rec *LockRecord) error {
		if rec.Expired(now) {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	m.index.Rebuild(records)
	m.updateActiveGauge()
	logging.Info(logComponent, "index rebuilt", "locks", len(records), "skipped", skipped)
	return nil
}

// Run drives the periodic cleanup sweep until the context is cancelled. It
// runs on its own timer, independent of request traffic.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	logging.Info(logComponent, "cleanup loop started", "interval", m.sweepInterval, "stale_after", m.staleAfter)
	for {
		select {
		case <-ctx.Done():
			logging.Info(logComponent, "cleanup loop stopped")
			return
		case <-ticker.C:
			removed, err := m.CleanupExpiredLocks(ctx)
			if err != nil {
				logging.Error(logComponent, "cleanup sweep failed", "err", err)
				continue
			}
			if removed > 0 {
				logging.Info(logComponent, "cleanup sweep done", "removed", removed)
			}
		}
	}
}

func (m *Manager) updateActiveGauge() {
	_, reservations, _ := m.index.Counts()
	m.metrics.SetActiveLocks(reservations)
}

func (m *Manager) publish(eventType string, rec *LockRecord) {
	err := m.events.PublishLockEvent(bus.LockEvent{
		Type:          eventType,
		AssetType:     string(rec.Asset.Type),
		AssetName:     rec.Asset.Name,
		OwnerID:       rec.OwnerID,
		ReservationID: rec.ReservationID,
		At:            time.Now().UTC(),
	})
	if err != nil {
		logging.Warn(logComponent, "event publish failed", "type", eventType, "asset", rec.Asset.String(), "err", err)
	}
}
