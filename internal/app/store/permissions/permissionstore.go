// internal/app/store/permissions/permissionstore.go
package permissionstore

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

var ErrNotFound = errors.New("permission not found")

// Store provides access to content_permissions. A row whose user_id is null
// is the content-wide default grant.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("content_permissions")}
}

func userFilter(contentID primitive.ObjectID, userID *string) bson.M {
	if userID == nil {
		return bson.M{"content_id": contentID, "user_id": nil}
	}
	return bson.M{"content_id": contentID, "user_id": *userID}
}

// Upsert grants role to userID (nil for all users), replacing any prior role.
func (s *Store) Upsert(ctx context.Context, contentID primitive.ObjectID, userID *string, role models.Role, grantedBy string) (models.ContentPermission, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"role":       role,
			"granted_by": grantedBy,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":        primitive.NewObjectID(),
			"content_id": contentID,
			"user_id":    userID,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var p models.ContentPermission
	if err := s.c.FindOneAndUpdate(ctx, userFilter(contentID, userID), update, opts).Decode(&p); err != nil {
		return models.ContentPermission{}, err
	}
	return p, nil
}

// Get returns the exact row for userID (nil for the default row).
func (s *Store) Get(ctx context.Context, contentID primitive.ObjectID, userID *string) (models.ContentPermission, error) {
	var p models.ContentPermission
	err := s.c.FindOne(ctx, userFilter(contentID, userID)).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.ContentPermission{}, ErrNotFound
		}
		return models.ContentPermission{}, err
	}
	return p, nil
}

// Delete removes the row for userID (nil for the default row).
func (s *Store) Delete(ctx context.Context, contentID primitive.ObjectID, userID *string) error {
	res, err := s.c.DeleteOne(ctx, userFilter(contentID, userID))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByContent returns every grant on a content item, default row first.
func (s *Store) ListByContent(ctx context.Context, contentID primitive.ObjectID) ([]models.ContentPermission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"content_id": contentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.ContentPermission{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
