package locks

import "testing"

func ident(t *testing.T, typ, name string) AssetIdentity {
	t.Helper()
	asset, err := NewAssetIdentity(typ, name)
	if err != nil {
		t.Fatalf("identity %s:%s: %v", typ, name, err)
	}
	return asset
}

func TestIndexRecordForget(t *testing.T) {
	ix := NewReservationIndex()
	robot := ident(t, "machine", "robot1")
	plate := ident(t, "resource", "plate1")

	ix.Record("owner-a", "res-1", robot)
	ix.Record("owner-a", "res-2", plate)
	ix.Record("owner-b", "res-3", robot)

	locks, reservations, owners := ix.Counts()
	if locks != 2 || reservations != 3 || owners != 2 {
		t.Fatalf("unexpected counts: %d/%d/%d", locks, reservations, owners)
	}

	leases := ix.OwnerLeases("owner-a")
	if len(leases) != 2 {
		t.Fatalf("unexpected leases: %v", leases)
	}

	ix.Forget("res-1")
	ix.Forget("res-unknown")
	if got := ix.OwnerLeases("owner-a"); len(got) != 1 || got[0].ReservationID != "res-2" {
		t.Fatalf("unexpected leases after forget: %v", got)
	}

	ix.Forget("res-2")
	if _, _, owners := ix.Counts(); owners != 1 {
		t.Fatalf("expected owner-a dropped once leaseless")
	}
}

func TestIndexRebuild(t *testing.T) {
	ix := NewReservationIndex()
	ix.Record("owner-a", "res-old", ident(t, "machine", "old"))

	records := []*LockRecord{
		{Asset: ident(t, "machine", "robot1"), ReservationID: "res-1", OwnerID: "owner-a"},
		{Asset: ident(t, "resource", "plate1"), ReservationID: "res-2", OwnerID: "owner-b"},
	}
	ix.Rebuild(records)

	locks, reservations, owners := ix.Counts()
	if locks != 2 || reservations != 2 || owners != 2 {
		t.Fatalf("unexpected counts after rebuild: %d/%d/%d", locks, reservations, owners)
	}
	if got := ix.OwnerLeases("owner-a"); len(got) != 1 || got[0].Asset.Name != "robot1" {
		t.Fatalf("stale entry survived rebuild: %v", got)
	}
}

func TestIndexOwnerLeasesEmpty(t *testing.T) {
	ix := NewReservationIndex()
	if got := ix.OwnerLeases("nobody"); len(got) != 0 {
		t.Fatalf("expected no leases, got: %v", got)
	}
}
