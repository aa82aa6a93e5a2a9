package contentstore_test

import (
	"testing"

	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	"github.com/dalemusser/coedit/internal/app/system/indexes"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/coedit/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newItem() models.ContentItem {
	return models.ContentItem{
		SpaceID:     primitive.NewObjectID(),
		ContentType: models.ContentText,
		Title:       "Notes",
		CreatedBy:   "user-1",
	}
}

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := contentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	item, err := store.Create(ctx, newItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if item.ID.IsZero() {
		t.Error("expected ID to be generated")
	}
	if item.CurrentVersion != 1 {
		t.Errorf("CurrentVersion = %d, want 1", item.CurrentVersion)
	}
	if item.Status != models.ContentStatusActive {
		t.Errorf("Status = %q, want active", item.Status)
	}

	v, err := store.GetVersion(ctx, item.ID, 1)
	if err != nil {
		t.Fatalf("GetVersion(1) failed: %v", err)
	}
	if v.Snapshot() != "" {
		t.Errorf("version 1 snapshot = %q, want empty", v.Snapshot())
	}
	if v.BaseSequence != 0 {
		t.Errorf("version 1 base sequence = %d, want 0", v.BaseSequence)
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := contentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.GetByID(ctx, primitive.NewObjectID())
	if err != contentstore.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Checkpoint_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	store := contentstore.New(db)

	item, err := store.Create(ctx, newItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap := "hello"
	v := models.ContentVersion{
		ContentID:        item.ID,
		VersionNumber:    6,
		FullSnapshot:     &snap,
		BaseSequence:     5,
		DiffFromPrevious: &models.SequenceRange{FromSeq: 1, ToSeq: 5},
		CreatedBy:        "user-1",
	}
	created, err := store.Checkpoint(ctx, v)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if !created {
		t.Error("expected first checkpoint to be created")
	}

	other := "different"
	v.FullSnapshot = &other
	created, err = store.Checkpoint(ctx, v)
	if err != nil {
		t.Fatalf("second Checkpoint failed: %v", err)
	}
	if created {
		t.Error("expected duplicate checkpoint to be ignored")
	}

	got, err := store.GetVersion(ctx, item.ID, 6)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if got.Snapshot() != "hello" {
		t.Errorf("snapshot = %q, want original %q", got.Snapshot(), "hello")
	}

	reloaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reloaded.LastCheckpointSeq != 5 {
		t.Errorf("LastCheckpointSeq = %d, want 5", reloaded.LastCheckpointSeq)
	}
}

func TestStore_SnapshotLookups(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := contentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	item, err := store.Create(ctx, newItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, n := range []int64{51, 101} {
		s := "snap"
		if _, err := store.Checkpoint(ctx, models.ContentVersion{
			ContentID:     item.ID,
			VersionNumber: n,
			FullSnapshot:  &s,
			BaseSequence:  n - 1,
		}); err != nil {
			t.Fatalf("Checkpoint(%d) failed: %v", n, err)
		}
	}

	latest, err := store.LatestSnapshot(ctx, item.ID)
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if latest.VersionNumber != 101 {
		t.Errorf("latest = %d, want 101", latest.VersionNumber)
	}

	at, err := store.SnapshotAtOrBefore(ctx, item.ID, 80)
	if err != nil {
		t.Fatalf("SnapshotAtOrBefore failed: %v", err)
	}
	if at.VersionNumber != 51 {
		t.Errorf("at-or-before 80 = %d, want 51", at.VersionNumber)
	}

	versions, err := store.ListVersions(ctx, item.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].VersionNumber != 1 || versions[2].VersionNumber != 101 {
		t.Errorf("unexpected order: %d..%d", versions[0].VersionNumber, versions[2].VersionNumber)
	}
	if versions[1].FullSnapshot != nil {
		t.Error("expected ListVersions to omit snapshots")
	}

	if _, err := store.GetVersion(ctx, item.ID, 7); err != contentstore.ErrVersionNotFound {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestStore_Advance_Monotonic(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := contentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	item, err := store.Create(ctx, newItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Advance(ctx, item.ID, 4, 3); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	// A stale writer must not move counters backwards.
	if err := store.Advance(ctx, item.ID, 2, 1); err != nil {
		t.Fatalf("stale Advance failed: %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.CurrentVersion != 4 || got.LastSequence != 3 {
		t.Errorf("got version=%d seq=%d, want 4/3", got.CurrentVersion, got.LastSequence)
	}

	if err := store.Advance(ctx, primitive.NewObjectID(), 2, 1); err != contentstore.ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestStore_SetTitleAndArchive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := contentstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	item, err := store.Create(ctx, newItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.SetTitle(ctx, item.ID, "Renamed"); err != nil {
		t.Fatalf("SetTitle failed: %v", err)
	}
	if err := store.Archive(ctx, item.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", got.Title)
	}
	if !got.IsArchived() {
		t.Error("expected item to be archived")
	}

	list, err := store.ListBySpace(ctx, item.SpaceID)
	if err != nil {
		t.Fatalf("ListBySpace failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected archived item to be hidden, got %d", len(list))
	}
}
