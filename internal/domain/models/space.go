package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CollaborativeSpace owns a set of collaborative content items. Membership is
// managed by the REST layer; the sync core only needs to know that a space
// exists and is active before it lets content be created inside it.
type CollaborativeSpace struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name    string             `bson:"name" json:"name"`
	NameCI  string             `bson:"name_ci" json:"-"`
	OwnerID string             `bson:"owner_id" json:"owner_id"`

	MemberIDs []string `bson:"member_ids,omitempty" json:"member_ids,omitempty"`

	// Status: "active" or "archived"
	Status string `bson:"status" json:"status"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether new content may be created in the space.
func (s CollaborativeSpace) IsActive() bool {
	return s.Status == "" || s.Status == "active"
}
