package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ContentType enumerates the kinds of collaborative content.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentCode       ContentType = "code"
	ContentImage      ContentType = "image"
	ContentVideo      ContentType = "video"
	ContentWhiteboard ContentType = "whiteboard"
)

// AllContentTypes lists every valid content type.
var AllContentTypes = []ContentType{ContentText, ContentCode, ContentImage, ContentVideo, ContentWhiteboard}

// IsValidContentType reports whether t names a known content type.
func IsValidContentType(t string) bool {
	for _, ct := range AllContentTypes {
		if string(ct) == t {
			return true
		}
	}
	return false
}

// Content status values.
const (
	ContentStatusActive   = "active"
	ContentStatusArchived = "archived"
)

// ContentItem is one collaboratively edited unit (document, code file,
// whiteboard...). It is mutated only through accepted operations and is never
// hard-deleted; archiving stops further edits.
type ContentItem struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SpaceID     primitive.ObjectID `bson:"space_id" json:"space_id"`
	ContentType ContentType        `bson:"content_type" json:"content_type"`
	Title       string             `bson:"title,omitempty" json:"title,omitempty"`

	// CurrentVersion is 1 + LastSequence: every accepted mutating operation
	// produces exactly one new logical version.
	CurrentVersion int64 `bson:"current_version" json:"current_version"`
	LastSequence   int64 `bson:"last_sequence" json:"last_sequence"`

	// LastCheckpointSeq is the applied sequence covered by the newest snapshot.
	LastCheckpointSeq int64 `bson:"last_checkpoint_seq" json:"last_checkpoint_seq"`

	Status string `bson:"status" json:"status"`

	CreatedBy string    `bson:"created_by" json:"created_by"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsArchived reports whether the item no longer accepts operations.
func (c ContentItem) IsArchived() bool {
	return c.Status == ContentStatusArchived
}

// SequenceRange describes the operations folded into a snapshot.
type SequenceRange struct {
	FromSeq int64 `bson:"from_seq" json:"from_seq"`
	ToSeq   int64 `bson:"to_seq" json:"to_seq"`
}

// ContentVersion is an immutable snapshot of a content item.
//
// Version 1 is written when the item is created and has no diff. Later
// versions are written by checkpoints; DiffFromPrevious then names the
// operation sequences replayed on top of the previous snapshot.
type ContentVersion struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ContentID     primitive.ObjectID `bson:"content_id" json:"content_id"`
	VersionNumber int64              `bson:"version_number" json:"version_number"`

	DiffFromPrevious *SequenceRange `bson:"diff_from_previous,omitempty" json:"diff_from_previous,omitempty"`
	FullSnapshot     *string        `bson:"full_snapshot,omitempty" json:"full_snapshot,omitempty"`

	// BaseSequence is the highest applied sequence reflected in FullSnapshot.
	BaseSequence int64 `bson:"base_sequence" json:"base_sequence"`

	CreatedBy string    `bson:"created_by" json:"created_by"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Snapshot returns the stored payload, or "" when none was materialized.
func (v ContentVersion) Snapshot() string {
	if v.FullSnapshot == nil {
		return ""
	}
	return *v.FullSnapshot
}
