package operationstore_test

import (
	"testing"

	operationstore "github.com/dalemusser/coedit/internal/app/store/operations"
	"github.com/dalemusser/coedit/internal/app/system/indexes"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/coedit/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func setup(t *testing.T) (*mongo.Database, *operationstore.Store) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	return db, operationstore.New(db)
}

func insertOp(cid primitive.ObjectID, seq int64, pos int, text string) models.Operation {
	return models.Operation{
		ContentID:       cid,
		UserID:          "user-1",
		Type:            models.OpInsert,
		Position:        models.IntPtr(pos),
		Text:            text,
		Version:         seq,
		AppliedSequence: seq,
	}
}

func TestStore_Append(t *testing.T) {
	_, store := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cid := primitive.NewObjectID()
	op, err := store.Append(ctx, insertOp(cid, 1, 0, "Hi"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if op.ID.IsZero() {
		t.Error("expected ID to be generated")
	}
	if op.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestStore_Append_DuplicateSequence(t *testing.T) {
	_, store := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cid := primitive.NewObjectID()
	if _, err := store.Append(ctx, insertOp(cid, 1, 0, "a")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_, err := store.Append(ctx, insertOp(cid, 1, 0, "b"))
	if err != operationstore.ErrSequenceConflict {
		t.Errorf("expected ErrSequenceConflict, got %v", err)
	}
}

func TestStore_Append_Gap(t *testing.T) {
	_, store := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cid := primitive.NewObjectID()
	if _, err := store.Append(ctx, insertOp(cid, 1, 0, "a")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_, err := store.Append(ctx, insertOp(cid, 3, 0, "c"))
	if err != operationstore.ErrSequenceGap {
		t.Errorf("expected ErrSequenceGap, got %v", err)
	}
	if _, err := store.Append(ctx, insertOp(cid, 0, 0, "z")); err == nil {
		t.Error("expected error for sequence 0")
	}
}

func TestStore_Since(t *testing.T) {
	_, store := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cid := primitive.NewObjectID()
	for i := int64(1); i <= 5; i++ {
		if _, err := store.Append(ctx, insertOp(cid, i, 0, "x")); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}
	// Another content's log must not leak in.
	if _, err := store.Append(ctx, insertOp(primitive.NewObjectID(), 1, 0, "y")); err != nil {
		t.Fatalf("Append other failed: %v", err)
	}

	ops, err := store.Since(ctx, cid, 2, 0)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	for i, op := range ops {
		if want := int64(3 + i); op.AppliedSequence != want {
			t.Errorf("ops[%d].AppliedSequence = %d, want %d", i, op.AppliedSequence, want)
		}
	}

	// Restartable: the same call returns the same prefix.
	again, err := store.Since(ctx, cid, 2, 2)
	if err != nil {
		t.Fatalf("Since (limit) failed: %v", err)
	}
	if len(again) != 2 || again[0].AppliedSequence != 3 || again[1].AppliedSequence != 4 {
		t.Errorf("unexpected limited result: %+v", again)
	}

	none, err := store.Since(ctx, cid, 5, 0)
	if err != nil {
		t.Fatalf("Since (tail) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no ops after last sequence, got %d", len(none))
	}
}

func TestStore_RangeAndLastSequence(t *testing.T) {
	_, store := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cid := primitive.NewObjectID()
	last, err := store.LastSequence(ctx, cid)
	if err != nil {
		t.Fatalf("LastSequence failed: %v", err)
	}
	if last != 0 {
		t.Errorf("LastSequence on empty log = %d, want 0", last)
	}

	for i := int64(1); i <= 4; i++ {
		if _, err := store.Append(ctx, insertOp(cid, i, 0, "x")); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}

	ops, err := store.Range(ctx, cid, 1, 3)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(ops) != 2 || ops[0].AppliedSequence != 2 || ops[1].AppliedSequence != 3 {
		t.Errorf("unexpected range: %+v", ops)
	}

	last, err = store.LastSequence(ctx, cid)
	if err != nil {
		t.Fatalf("LastSequence failed: %v", err)
	}
	if last != 4 {
		t.Errorf("LastSequence = %d, want 4", last)
	}
}
