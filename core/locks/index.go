package locks

import "sync"

// Lease pairs a reservation with the asset it holds.
type Lease struct {
	Asset         AssetIdentity
	ReservationID string
}

// ReservationIndex is a derived, in-process projection of the lock store:
// owner -> held leases and reservation -> asset. It exists to make bulk
// release and status reporting O(1) and is never the source of truth; the
// whole projection is rebuildable from a full store scan.
type ReservationIndex struct {
	mu            sync.RWMutex
	byOwner       map[string]map[string]AssetIdentity
	byReservation map[string]indexEntry
}

type indexEntry struct {
	owner string
	asset AssetIdentity
}

// NewReservationIndex returns an empty index.
func NewReservationIndex() *ReservationIndex {
	return &ReservationIndex{
		byOwner:       make(map[string]map[string]AssetIdentity),
		byReservation: make(map[string]indexEntry),
	}
}

// Record tracks a granted lease.
func (ix *ReservationIndex) Record(ownerID, reservationID string, asset AssetIdentity) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.record(ownerID, reservationID, asset)
}

func (ix *ReservationIndex) record(ownerID, reservationID string, asset AssetIdentity) {
	leases, ok := ix.byOwner[ownerID]
	if !ok {
		leases = make(map[string]AssetIdentity)
		ix.byOwner[ownerID] = leases
	}
	leases[reservationID] = asset
	ix.byReservation[reservationID] = indexEntry{owner: ownerID, asset: asset}
}

// Forget drops a lease by reservation id. Unknown reservations are a no-op.
func (ix *ReservationIndex) Forget(reservationID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry, ok := ix.byReservation[reservationID]
	if !ok {
		return
	}
	delete(ix.byReservation, reservationID)
	if leases, ok := ix.byOwner[entry.owner]; ok {
		delete(leases, reservationID)
		if len(leases) == 0 {
			delete(ix.byOwner, entry.owner)
		}
	}
}

// OwnerLeases returns a snapshot of every lease held by an owner.
func (ix *ReservationIndex) OwnerLeases(ownerID string) []Lease {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	leases := ix.byOwner[ownerID]
	out := make([]Lease, 0, len(leases))
	for reservationID, asset := range leases {
		out = append(out, Lease{Asset: asset, ReservationID: reservationID})
	}
	return out
}

// Rebuild replaces the whole projection from a full store scan, so a
// restarted manager regains a correct view without peer replication.
func (ix *ReservationIndex) Rebuild(records []*LockRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byOwner = make(map[string]map[string]AssetIdentity, len(records))
	ix.byReservation = make(map[string]indexEntry, len(records))
	for _, rec := range records {
		ix.record(rec.OwnerID, rec.ReservationID, rec.Asset)
	}
}

// Counts reports tracked locks, reservations and owners.
func (ix *ReservationIndex) Counts() (locks, reservations, owners int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	assets := make(map[AssetIdentity]struct{}, len(ix.byReservation))
	for _, entry := range ix.byReservation {
		assets[entry.asset] = struct{}{}
	}
	return len(assets), len(ix.byReservation), len(ix.byOwner)
}
