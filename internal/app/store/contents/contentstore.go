// internal/app/store/contents/contentstore.go
package contentstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/coedit/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound        = errors.New("content not found")
	ErrVersionNotFound = errors.New("content version not found")
)

// Store provides access to collaborative_contents and their immutable
// content_versions snapshots.
type Store struct {
	c *mongo.Collection
	v *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection("collaborative_contents"),
		v: db.Collection("content_versions"),
	}
}

// Create inserts a content item at version 1 together with its empty
// version-1 snapshot.
func (s *Store) Create(ctx context.Context, item models.ContentItem) (models.ContentItem, error) {
	now := time.Now().UTC()
	item.ID = primitive.NewObjectID()
	item.CurrentVersion = 1
	item.LastSequence = 0
	item.LastCheckpointSeq = 0
	if item.Status == "" {
		item.Status = models.ContentStatusActive
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, item); err != nil {
		return models.ContentItem{}, err
	}

	empty := ""
	first := models.ContentVersion{
		ContentID:     item.ID,
		VersionNumber: 1,
		FullSnapshot:  &empty,
		BaseSequence:  0,
		CreatedBy:     item.CreatedBy,
		CreatedAt:     now,
	}
	if _, err := s.Checkpoint(ctx, first); err != nil {
		return models.ContentItem{}, err
	}
	return item, nil
}

// GetByID retrieves a content item by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.ContentItem, error) {
	var item models.ContentItem
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.ContentItem{}, ErrNotFound
		}
		return models.ContentItem{}, err
	}
	return item, nil
}

// ListBySpace returns the non-archived items in a space, newest first.
func (s *Store) ListBySpace(ctx context.Context, spaceID primitive.ObjectID) ([]models.ContentItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{
		"space_id": spaceID,
		"status":   bson.M{"$ne": models.ContentStatusArchived},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []models.ContentItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Checkpoint stores an immutable snapshot. A second checkpoint for the same
// version number is detected by the unique index and ignored; created reports
// whether this call wrote the row.
func (s *Store) Checkpoint(ctx context.Context, v models.ContentVersion) (created bool, err error) {
	v.ID = primitive.NewObjectID()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if _, err := s.v.InsertOne(ctx, v); err != nil {
		if wafflemongo.IsDup(err) {
			return false, nil
		}
		return false, err
	}

	_, err = s.c.UpdateByID(ctx, v.ContentID, bson.M{
		"$max": bson.M{"last_checkpoint_seq": v.BaseSequence},
	})
	if err != nil {
		return true, err
	}
	return true, nil
}

// GetVersion returns the snapshot row for an exact version number.
func (s *Store) GetVersion(ctx context.Context, id primitive.ObjectID, n int64) (models.ContentVersion, error) {
	var v models.ContentVersion
	err := s.v.FindOne(ctx, bson.M{"content_id": id, "version_number": n}).Decode(&v)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.ContentVersion{}, ErrVersionNotFound
		}
		return models.ContentVersion{}, err
	}
	return v, nil
}

// LatestSnapshot returns the newest version that carries a full snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, id primitive.ObjectID) (models.ContentVersion, error) {
	return s.snapshotWhere(ctx, bson.M{
		"content_id":    id,
		"full_snapshot": bson.M{"$exists": true},
	})
}

// SnapshotAtOrBefore returns the newest full snapshot whose version number is
// at most n.
func (s *Store) SnapshotAtOrBefore(ctx context.Context, id primitive.ObjectID, n int64) (models.ContentVersion, error) {
	return s.snapshotWhere(ctx, bson.M{
		"content_id":     id,
		"version_number": bson.M{"$lte": n},
		"full_snapshot":  bson.M{"$exists": true},
	})
}

func (s *Store) snapshotWhere(ctx context.Context, filter bson.M) (models.ContentVersion, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version_number", Value: -1}})
	var v models.ContentVersion
	err := s.v.FindOne(ctx, filter, opts).Decode(&v)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.ContentVersion{}, ErrVersionNotFound
		}
		return models.ContentVersion{}, err
	}
	return v, nil
}

// ListVersions returns version metadata (without payloads) in ascending order.
func (s *Store) ListVersions(ctx context.Context, id primitive.ObjectID) ([]models.ContentVersion, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "version_number", Value: 1}}).
		SetProjection(bson.M{"full_snapshot": 0})
	cur, err := s.v.Find(ctx, bson.M{"content_id": id}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.ContentVersion
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Advance records that the item reached version/lastSeq. $max keeps the
// counters monotonic if writes from two nodes interleave.
func (s *Store) Advance(ctx context.Context, id primitive.ObjectID, version, lastSeq int64) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{
		"$max": bson.M{
			"current_version": version,
			"last_sequence":   lastSeq,
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTitle updates the item's display title.
func (s *Store) SetTitle(ctx context.Context, id primitive.ObjectID, title string) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"title":      title,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Archive soft-deletes the item. Archived items keep their history,
// comments and permissions.
func (s *Store) Archive(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"status":     models.ContentStatusArchived,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
