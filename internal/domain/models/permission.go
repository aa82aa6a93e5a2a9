package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is a user's access level on one content item.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleEditor    Role = "editor"
	RoleCommenter Role = "commenter"
	RoleViewer    Role = "viewer"
)

// Rank orders roles: owner > editor > commenter > viewer. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleEditor:
		return 3
	case RoleCommenter:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// IsValidRole reports whether r is one of the four known roles.
func IsValidRole(r string) bool {
	return Role(r).Rank() > 0
}

// ContentPermission grants a role on a content item. A nil UserID applies to
// every user that has access to the owning space.
type ContentPermission struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ContentID primitive.ObjectID `bson:"content_id" json:"content_id"`
	UserID    *string            `bson:"user_id" json:"user_id"`
	Role      Role               `bson:"role" json:"role"`
	GrantedBy string             `bson:"granted_by" json:"granted_by"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// AppliesToAll reports whether this is the content-wide default grant.
func (p ContentPermission) AppliesToAll() bool {
	return p.UserID == nil
}
