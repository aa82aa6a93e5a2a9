package permissionstore_test

import (
	"testing"

	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	"github.com/dalemusser/coedit/internal/app/system/indexes"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/coedit/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func strPtr(s string) *string { return &s }

func TestStore_UpsertAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	store := permissionstore.New(db)
	cid := primitive.NewObjectID()

	p, err := store.Upsert(ctx, cid, strPtr("alice"), models.RoleViewer, "owner-1")
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if p.ID.IsZero() || p.Role != models.RoleViewer {
		t.Errorf("unexpected permission: %+v", p)
	}

	// Second upsert replaces the role on the same row.
	p2, err := store.Upsert(ctx, cid, strPtr("alice"), models.RoleEditor, "owner-1")
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if p2.ID != p.ID {
		t.Error("expected upsert to keep the same row")
	}

	got, err := store.Get(ctx, cid, strPtr("alice"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Role != models.RoleEditor {
		t.Errorf("Role = %q, want editor", got.Role)
	}

	if _, err := store.Get(ctx, cid, strPtr("bob")); err != permissionstore.ErrNotFound {
		t.Errorf("expected ErrNotFound for bob, got %v", err)
	}
}

func TestStore_DefaultRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	store := permissionstore.New(db)
	cid := primitive.NewObjectID()

	if _, err := store.Get(ctx, cid, nil); err != permissionstore.ErrNotFound {
		t.Errorf("expected ErrNotFound before any default, got %v", err)
	}
	if _, err := store.Upsert(ctx, cid, nil, models.RoleCommenter, "owner-1"); err != nil {
		t.Fatalf("Upsert default failed: %v", err)
	}
	if _, err := store.Upsert(ctx, cid, strPtr("alice"), models.RoleOwner, "owner-1"); err != nil {
		t.Fatalf("Upsert alice failed: %v", err)
	}

	def, err := store.Get(ctx, cid, nil)
	if err != nil {
		t.Fatalf("Get default failed: %v", err)
	}
	if !def.AppliesToAll() || def.Role != models.RoleCommenter {
		t.Errorf("unexpected default row: %+v", def)
	}

	list, err := store.ListByContent(ctx, cid)
	if err != nil {
		t.Fatalf("ListByContent failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(list))
	}
	if !list[0].AppliesToAll() {
		t.Error("expected default row first")
	}

	if err := store.Delete(ctx, cid, nil); err != nil {
		t.Fatalf("Delete default failed: %v", err)
	}
	if err := store.Delete(ctx, cid, nil); err != permissionstore.ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := store.Get(ctx, cid, strPtr("alice")); err != nil {
		t.Errorf("deleting default removed alice: %v", err)
	}
}
