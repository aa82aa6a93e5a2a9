// internal/app/store/spaces/spacestore.go
package spacestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrNotFound = errors.New("space not found")

// Store provides access to the collaborative_spaces collection.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("collaborative_spaces")}
}

// Create inserts a new space. The owner is always a member.
func (s *Store) Create(ctx context.Context, sp models.CollaborativeSpace) (models.CollaborativeSpace, error) {
	now := time.Now().UTC()
	sp.ID = primitive.NewObjectID()
	sp.NameCI = text.Fold(sp.Name)
	if sp.Status == "" {
		sp.Status = "active"
	}
	if sp.OwnerID != "" && !contains(sp.MemberIDs, sp.OwnerID) {
		sp.MemberIDs = append(sp.MemberIDs, sp.OwnerID)
	}
	sp.CreatedAt = now
	sp.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, sp); err != nil {
		return models.CollaborativeSpace{}, err
	}
	return sp, nil
}

// GetByID retrieves a space by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.CollaborativeSpace, error) {
	var sp models.CollaborativeSpace
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&sp)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.CollaborativeSpace{}, ErrNotFound
		}
		return models.CollaborativeSpace{}, err
	}
	return sp, nil
}

// IsMember reports whether userID belongs to the space.
func (s *Store) IsMember(ctx context.Context, id primitive.ObjectID, userID string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": id, "member_ids": userID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddMember adds userID to the space's member list.
func (s *Store) AddMember(ctx context.Context, id primitive.ObjectID, userID string) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{
		"$addToSet": bson.M{"member_ids": userID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
