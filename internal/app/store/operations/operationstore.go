// internal/app/store/operations/operationstore.go
package operationstore

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
	// ErrSequenceConflict means another operation already holds the sequence.
	ErrSequenceConflict = errors.New("applied sequence already assigned")
	// ErrSequenceGap means the previous sequence is missing from the log.
	ErrSequenceGap = errors.New("applied sequence would leave a gap")
	errBadSequence = errors.New("applied sequence must be >= 1")
)

// Store is the append-only operations log. The unique index on
// (content_id, applied_sequence) is what makes a sequence number assignable
// exactly once, even across processes.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("operations")}
}

// Append stores op under op.AppliedSequence.
func (s *Store) Append(ctx context.Context, op models.Operation) (models.Operation, error) {
	if op.AppliedSequence < 1 {
		return models.Operation{}, errBadSequence
	}
	if op.AppliedSequence > 1 {
		n, err := s.c.CountDocuments(ctx, bson.M{
			"content_id":       op.ContentID,
			"applied_sequence": op.AppliedSequence - 1,
		})
		if err != nil {
			return models.Operation{}, err
		}
		if n == 0 {
			return models.Operation{}, ErrSequenceGap
		}
	}

	op.ID = primitive.NewObjectID()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	if _, err := s.c.InsertOne(ctx, op); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Operation{}, ErrSequenceConflict
		}
		return models.Operation{}, err
	}
	return op, nil
}

// Since returns operations with applied_sequence > from in ascending order.
// limit <= 0 returns all of them. Calling it again with the same from returns
// the same prefix, so catch-up can be retried freely.
func (s *Store) Since(ctx context.Context, contentID primitive.ObjectID, from int64, limit int64) ([]models.Operation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "applied_sequence", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.find(ctx, bson.M{
		"content_id":       contentID,
		"applied_sequence": bson.M{"$gt": from},
	}, opts)
}

// Range returns operations with from < applied_sequence <= to, ascending.
func (s *Store) Range(ctx context.Context, contentID primitive.ObjectID, from, to int64) ([]models.Operation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "applied_sequence", Value: 1}})
	return s.find(ctx, bson.M{
		"content_id":       contentID,
		"applied_sequence": bson.M{"$gt": from, "$lte": to},
	}, opts)
}

// LastSequence returns the highest applied sequence for the content, or 0.
func (s *Store) LastSequence(ctx context.Context, contentID primitive.ObjectID) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "applied_sequence", Value: -1}}).
		SetProjection(bson.M{"applied_sequence": 1})
	var row struct {
		AppliedSequence int64 `bson:"applied_sequence"`
	}
	err := s.c.FindOne(ctx, bson.M{"content_id": contentID}, opts).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.AppliedSequence, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Operation, error) {
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	ops := []models.Operation{}
	if err := cur.All(ctx, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}
