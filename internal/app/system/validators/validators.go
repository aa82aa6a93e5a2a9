// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/coedit/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Collections lists every collection the service owns.
var Collections = []string{
	"collaborative_spaces",
	"collaborative_contents",
	"content_versions",
	"operations",
	"content_permissions",
	"content_comments",
	"audit_events",
}

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	// helper: ensure collection exists (with truthful logging) and then validator (if provided)
	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			// DocumentDB or other deployments may not support collMod/validators.
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("collaborative_spaces", spacesSchema())
	ensure("collaborative_contents", contentsSchema())
	ensure("content_versions", versionsSchema())

	// The log is append-only; the schema guards the sequence shape.
	ensure("operations", operationsSchema())

	ensure("content_permissions", permissionsSchema())
	ensure("content_comments", commentsSchema())
	ensure("audit_events", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

// collectionExists returns true when <name> already exists.
// Uses ListCollectionNames to avoid "created collection" log when it didn't.
func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		zap.L().Info("collection exists", zap.String("collection", name))
		return false, nil
	}
	// If listing failed, fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		// NamespaceExists / already exists is fine (race or prior run).
		if isNamespaceExistsErr(err) {
			zap.L().Info("collection exists", zap.String("collection", name))
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

// integer accepts both 32- and 64-bit BSON integers.
var integer = bson.A{"int", "long"}

func spacesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "name_ci", "owner_id", "status"},
			"properties": bson.M{
				"name":       bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"name_ci":    bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"owner_id":   bson.M{"bsonType": "string", "minLength": 1},
				"member_ids": bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
				"status":     bson.M{"enum": bson.A{"active", "archived"}},
			},
		},
	}
}

func contentsSchema() bson.M {
	// Build the enum for content_type from the canonical list in the domain models.
	typeEnum := bson.A{}
	for _, t := range models.AllContentTypes {
		typeEnum = append(typeEnum, string(t))
	}

	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"space_id", "content_type", "current_version", "last_sequence", "status", "created_by"},
			"properties": bson.M{
				"space_id":            bson.M{"bsonType": "objectId"},
				"content_type":        bson.M{"bsonType": "string", "enum": typeEnum},
				"title":               bson.M{"bsonType": "string"},
				"current_version":     bson.M{"bsonType": integer, "minimum": 1},
				"last_sequence":       bson.M{"bsonType": integer, "minimum": 0},
				"last_checkpoint_seq": bson.M{"bsonType": integer, "minimum": 0},
				"status":              bson.M{"enum": bson.A{models.ContentStatusActive, models.ContentStatusArchived}},
				"created_by":          bson.M{"bsonType": "string"},
			},
		},
	}
}

func versionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"content_id", "version_number", "base_sequence", "created_at"},
			"properties": bson.M{
				"content_id":     bson.M{"bsonType": "objectId"},
				"version_number": bson.M{"bsonType": integer, "minimum": 1},
				"base_sequence":  bson.M{"bsonType": integer, "minimum": 0},
				"full_snapshot":  bson.M{"bsonType": "string"},
				"diff_from_previous": bson.M{
					"bsonType": "object",
					"required": bson.A{"from_seq", "to_seq"},
				},
				"created_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func operationsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"content_id", "user_id", "type", "applied_sequence", "created_at"},
			"properties": bson.M{
				"content_id":       bson.M{"bsonType": "objectId"},
				"user_id":          bson.M{"bsonType": "string", "minLength": 1},
				"type":             bson.M{"enum": bson.A{string(models.OpInsert), string(models.OpDelete), string(models.OpFormat)}},
				"position":         bson.M{"bsonType": integer, "minimum": 0},
				"length":           bson.M{"bsonType": integer, "minimum": 0},
				"applied_sequence": bson.M{"bsonType": integer, "minimum": 1},
				"created_at":       bson.M{"bsonType": "date"},
			},
		},
	}
}

func permissionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"content_id", "user_id", "role"},
			"properties": bson.M{
				"content_id": bson.M{"bsonType": "objectId"},
				"user_id":    bson.M{"bsonType": bson.A{"string", "null"}},
				"role": bson.M{"enum": bson.A{
					string(models.RoleOwner), string(models.RoleEditor),
					string(models.RoleCommenter), string(models.RoleViewer),
				}},
			},
		},
	}
}

func commentsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"content_id", "user_id", "text", "resolved", "created_at"},
			"properties": bson.M{
				"content_id": bson.M{"bsonType": "objectId"},
				"user_id":    bson.M{"bsonType": "string", "minLength": 1},
				"text":       bson.M{"bsonType": "string", "minLength": 1},
				"parent_id":  bson.M{"bsonType": "objectId"},
				"resolved":   bson.M{"bsonType": "bool"},
				"position": bson.M{
					"bsonType": "object",
					"required": bson.A{"version_number", "offset", "length"},
				},
				"created_at": bson.M{"bsonType": "date"},
			},
		},
	}
}
