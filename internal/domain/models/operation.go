package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OpType is the kind of an edit operation.
type OpType string

const (
	OpInsert    OpType = "insert"
	OpDelete    OpType = "delete"
	OpFormat    OpType = "format"
	OpCursor    OpType = "cursor"
	OpSelection OpType = "selection"
)

// IsValidOpType reports whether t names a known operation type.
func IsValidOpType(t OpType) bool {
	switch t {
	case OpInsert, OpDelete, OpFormat, OpCursor, OpSelection:
		return true
	}
	return false
}

// Mutates reports whether operations of this type change the payload or its
// formatting and therefore go to the durable log. Cursor and selection
// operations are presence-only.
func (t OpType) Mutates() bool {
	return t == OpInsert || t == OpDelete || t == OpFormat
}

// Operation is a single atomic edit. Positions and lengths count Unicode code
// points. Once accepted an operation is never mutated or reordered.
type Operation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ContentID primitive.ObjectID `bson:"content_id" json:"content_id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Type      OpType             `bson:"type" json:"type"`

	Position *int   `bson:"position,omitempty" json:"position,omitempty"`
	Length   *int   `bson:"length,omitempty" json:"length,omitempty"`
	Text     string `bson:"text,omitempty" json:"text,omitempty"`

	// Version is the content version the client generated the op against.
	Version int64 `bson:"version" json:"version"`

	// AppliedSequence is assigned by the coordinator, gapless per content.
	AppliedSequence int64 `bson:"applied_sequence" json:"applied_sequence"`

	Meta map[string]any `bson:"meta,omitempty" json:"meta,omitempty"`

	// ClientRef is an opaque client-side id echoed back in acknowledgments.
	ClientRef string `bson:"client_ref,omitempty" json:"client_ref,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Pos returns the position or 0 when unset.
func (o Operation) Pos() int {
	if o.Position == nil {
		return 0
	}
	return *o.Position
}

// Len returns the length or 0 when unset.
func (o Operation) Len() int {
	if o.Length == nil {
		return 0
	}
	return *o.Length
}

// IntPtr is a small helper for optional position/length fields.
func IntPtr(v int) *int {
	return &v
}
