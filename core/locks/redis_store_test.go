package locks

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func testRecord(t *testing.T, typ, name, reservation, owner string) *LockRecord {
	t.Helper()
	return &LockRecord{
		Asset:         ident(t, typ, name),
		ReservationID: reservation,
		OwnerID:       owner,
		AcquiredAt:    time.Now().UTC(),
	}
}

func skipEval(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "eval") && strings.Contains(msg, "unknown")
}

func TestTrySetWithLease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "machine", "robot1", "res-1", "owner-a")
	ok, err := store.TrySetWithLease(ctx, rec, 30*time.Second)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !ok {
		t.Fatalf("expected first set to succeed")
	}

	second := testRecord(t, "machine", "robot1", "res-2", "owner-b")
	ok, err = store.TrySetWithLease(ctx, second, 30*time.Second)
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	if ok {
		t.Fatalf("expected second set to fail while held")
	}

	got, err := store.Get(ctx, rec.Asset)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ReservationID != "res-1" || got.OwnerID != "owner-a" {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.ExpiresAt.IsZero() {
		t.Fatalf("expected lease expiry to round-trip")
	}
}

func TestTrySetWithoutLease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "resource", "plate1", "res-1", "owner-a")
	if ok, err := store.TrySetWithLease(ctx, rec, 0); err != nil || !ok {
		t.Fatalf("set without lease: err=%v ok=%v", err, ok)
	}
	got, err := store.Get(ctx, rec.Asset)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || !got.ExpiresAt.IsZero() {
		t.Fatalf("expected lease-less record, got: %#v", got)
	}
}

func TestGetAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	got, err := store.Get(context.Background(), ident(t, "machine", "ghost"))
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for free asset")
	}
}

func TestGetLapsedLeaseReadsAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "machine", "robot1", "res-1", "owner-a")
	rec.AcquiredAt = time.Now().UTC().Add(-10 * time.Second)
	rec.ExpiresAt = time.Now().UTC().Add(-5 * time.Second)
	// Long store TTL: the key is physically present but logically lapsed.
	if ok, err := store.TrySetWithLease(ctx, rec, time.Hour); err != nil || !ok {
		t.Fatalf("set: err=%v ok=%v", err, ok)
	}

	got, err := store.Get(ctx, rec.Asset)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("lapsed lease should read as absent, got: %#v", got)
	}
}

func TestCompareAndDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "machine", "robot1", "res-1", "owner-a")
	if ok, err := store.TrySetWithLease(ctx, rec, 30*time.Second); err != nil || !ok {
		t.Fatalf("set: err=%v ok=%v", err, ok)
	}

	ok, err := store.CompareAndDelete(ctx, rec.Asset, "res-wrong")
	if err != nil {
		if skipEval(err) {
			t.Skip("miniredis does not support EVAL")
		}
		t.Fatalf("mismatched delete: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatched delete to be refused")
	}
	if got, err := store.Get(ctx, rec.Asset); err != nil || got == nil {
		t.Fatalf("lock should survive mismatched delete: err=%v rec=%v", err, got)
	}

	if ok, err := store.CompareAndDelete(ctx, rec.Asset, "res-1"); err != nil || !ok {
		t.Fatalf("matching delete: err=%v ok=%v", err, ok)
	}
	if got, err := store.Get(ctx, rec.Asset); err != nil || got != nil {
		t.Fatalf("lock should be gone: err=%v rec=%v", err, got)
	}

	// Double release reads as a mismatch, not an error.
	if ok, err := store.CompareAndDelete(ctx, rec.Asset, "res-1"); err != nil || ok {
		t.Fatalf("absent delete: err=%v ok=%v", err, ok)
	}
}

func TestScanLocks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	live := testRecord(t, "machine", "robot1", "res-1", "owner-a")
	lapsed := testRecord(t, "machine", "robot2", "res-2", "owner-a")
	lapsed.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	orphan := testRecord(t, "resource", "plate1", "res-3", "owner-b")

	for _, rec := range []*LockRecord{live, lapsed, orphan} {
		if ok, err := store.TrySetWithLease(ctx, rec, 0); err != nil || !ok {
			t.Fatalf("set %s: err=%v ok=%v", rec.Asset, err, ok)
		}
	}

	seen := map[string]bool{}
	skipped, err := store.ScanLocks(ctx, func(rec *LockRecord) error {
		seen[rec.ReservationID] = true
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped records, got %d", skipped)
	}
	// The scan reports lapsed records too; cleanup needs to see them.
	if len(seen) != 3 || !seen["res-2"] {
		t.Fatalf("unexpected scan results: %v", seen)
	}
}

func TestScanLocksSkipsUndecodableRecords(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	good := testRecord(t, "machine", "robot1", "res-1", "owner-a")
	if ok, err := store.TrySetWithLease(ctx, good, 0); err != nil || !ok {
		t.Fatalf("set: err=%v ok=%v", err, ok)
	}
	// A corrupt payload and a malformed key under the lock prefix must not
	// abort the enumeration; both are counted and skipped.
	if err := mr.Set("lock:machine:corrupt", "{not-json"); err != nil {
		t.Fatalf("inject corrupt payload: %v", err)
	}
	if err := mr.Set("lock:junk", `{"reservation_id":"res-x"}`); err != nil {
		t.Fatalf("inject malformed key: %v", err)
	}

	seen := map[string]bool{}
	skipped, err := store.ScanLocks(ctx, func(rec *LockRecord) error {
		seen[rec.ReservationID] = true
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped records, got %d", skipped)
	}
	if len(seen) != 1 || !seen["res-1"] {
		t.Fatalf("good record should still be visited: %v", seen)
	}
}

func TestLockKeyRoundTrip(t *testing.T) {
	asset := ident(t, "machine", "robot1")
	if asset.LockKey() != "lock:machine:robot1" {
		t.Fatalf("unexpected key: %s", asset.LockKey())
	}
	back, err := AssetFromLockKey(asset.LockKey())
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if back != asset {
		t.Fatalf("round trip mismatch: %v", back)
	}
	if _, err := AssetFromLockKey("job:machine:robot1"); err == nil {
		t.Fatalf("expected error for foreign prefix")
	}
	if _, err := AssetFromLockKey("lock:junk"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestNewAssetIdentityValidation(t *testing.T) {
	if _, err := NewAssetIdentity("spaceship", "x"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := NewAssetIdentity("machine", ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := NewAssetIdentity("machine", "a:b"); err == nil {
		t.Fatalf("expected error for name with separator")
	}
}
