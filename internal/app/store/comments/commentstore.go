// internal/app/store/comments/commentstore.go
package commentstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound = errors.New("comment not found")
	// ErrParentMismatch is returned when a reply's parent is missing or
	// belongs to a different content item.
	ErrParentMismatch = errors.New("parent comment is not on this content")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("content_comments")}
}

// Create inserts a comment or reply.
func (s *Store) Create(ctx context.Context, cm models.ContentComment) (models.ContentComment, error) {
	if cm.ParentID != nil {
		parent, err := s.GetByID(ctx, *cm.ParentID)
		if err == ErrNotFound {
			return models.ContentComment{}, ErrParentMismatch
		}
		if err != nil {
			return models.ContentComment{}, err
		}
		if parent.ContentID != cm.ContentID {
			return models.ContentComment{}, ErrParentMismatch
		}
	}

	now := time.Now().UTC()
	cm.ID = primitive.NewObjectID()
	cm.Resolved = false
	cm.ResolvedBy = ""
	cm.ResolvedAt = nil
	cm.CreatedAt = now
	cm.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, cm); err != nil {
		return models.ContentComment{}, err
	}
	return cm, nil
}

func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.ContentComment, error) {
	var cm models.ContentComment
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&cm)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.ContentComment{}, ErrNotFound
		}
		return models.ContentComment{}, err
	}
	return cm, nil
}

// ListByContent returns comments in creation order. Resolved threads are
// skipped unless includeResolved is set.
func (s *Store) ListByContent(ctx context.Context, contentID primitive.ObjectID, includeResolved bool) ([]models.ContentComment, error) {
	filter := bson.M{"content_id": contentID}
	if !includeResolved {
		filter["resolved"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.ContentComment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve marks a comment resolved. Resolving twice keeps the first
// resolver and timestamp.
func (s *Store) Resolve(ctx context.Context, id primitive.ObjectID, by string) (models.ContentComment, error) {
	now := time.Now().UTC()
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "resolved": false},
		bson.M{"$set": bson.M{
			"resolved":    true,
			"resolved_by": by,
			"resolved_at": now,
			"updated_at":  now,
		}},
	)
	if err != nil {
		return models.ContentComment{}, err
	}
	return s.GetByID(ctx, id)
}
