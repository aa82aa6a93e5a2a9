package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CommentAnchor pins a comment to a range of the payload as it was at
// VersionNumber.
type CommentAnchor struct {
	VersionNumber int64 `bson:"version_number" json:"version_number"`
	Offset        int   `bson:"offset" json:"offset"`
	Length        int   `bson:"length" json:"length"`
}

// ContentComment is a threaded discussion entry on a content item.
type ContentComment struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ContentID primitive.ObjectID  `bson:"content_id" json:"content_id"`
	UserID    string              `bson:"user_id" json:"user_id"`
	Text      string              `bson:"text" json:"text"`
	Position  *CommentAnchor      `bson:"position,omitempty" json:"position,omitempty"`
	ParentID  *primitive.ObjectID `bson:"parent_id,omitempty" json:"parent_id,omitempty"`

	Resolved   bool       `bson:"resolved" json:"resolved"`
	ResolvedBy string     `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
