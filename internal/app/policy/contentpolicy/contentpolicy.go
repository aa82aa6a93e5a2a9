// internal/app/policy/contentpolicy/contentpolicy.go
package contentpolicy

import (
	"context"
	"errors"
	"sync"
	"time"

	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Action is something a user may attempt on a content item.
type Action string

const (
	ActionView         Action = "view"
	ActionComment      Action = "comment"
	ActionEdit         Action = "edit"
	ActionManageAccess Action = "manage_access"
)

// Allows applies the role matrix:
// owner → all; editor → view, comment, edit; commenter → view, comment;
// viewer → view.
func Allows(role models.Role, a Action) bool {
	switch a {
	case ActionView:
		return role.Rank() >= models.RoleViewer.Rank()
	case ActionComment:
		return role.Rank() >= models.RoleCommenter.Rank()
	case ActionEdit:
		return role.Rank() >= models.RoleEditor.Rank()
	case ActionManageAccess:
		return role == models.RoleOwner
	}
	return false
}

// ActionFor maps an operation type to the action it requires.
// Presence-only operations need view.
func ActionFor(t models.OpType) Action {
	if t.Mutates() {
		return ActionEdit
	}
	return ActionView
}

// PermissionStore is the subset of the permissions store the gate needs.
type PermissionStore interface {
	Get(ctx context.Context, contentID primitive.ObjectID, userID *string) (models.ContentPermission, error)
	Upsert(ctx context.Context, contentID primitive.ObjectID, userID *string, role models.Role, grantedBy string) (models.ContentPermission, error)
	Delete(ctx context.Context, contentID primitive.ObjectID, userID *string) error
}

// SpaceAccess decides whether a user may fall back to a content item's
// "all users" grant. A nil SpaceAccess lets everyone fall back.
type SpaceAccess interface {
	HasSpaceAccess(ctx context.Context, contentID primitive.ObjectID, userID string) (bool, error)
}

type cacheEntry struct {
	role    models.Role
	found   bool
	expires time.Time
}

// Gate resolves a user's role on a content item:
// the exact (content, user) row wins, then the content's "all users" row for
// users with space access, otherwise deny. Answers are cached per process for
// a short TTL and dropped locally on Grant/Revoke.
type Gate struct {
	perms  PermissionStore
	spaces SpaceAccess
	ttl    time.Duration
	log    *zap.Logger

	// Clock is replaceable in tests.
	Clock func() time.Time

	mu    sync.Mutex
	cache map[primitive.ObjectID]map[string]cacheEntry
}

// New builds a Gate. ttl <= 0 disables caching.
func New(perms PermissionStore, spaces SpaceAccess, ttl time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		perms:  perms,
		spaces: spaces,
		ttl:    ttl,
		log:    logger,
		Clock:  time.Now,
		cache:  make(map[primitive.ObjectID]map[string]cacheEntry),
	}
}

// RoleFor returns the effective role. found is false when no grant applies.
func (g *Gate) RoleFor(ctx context.Context, contentID primitive.ObjectID, userID string) (role models.Role, found bool, err error) {
	if e, ok := g.cached(contentID, userID); ok {
		return e.role, e.found, nil
	}

	role, found, err = g.resolve(ctx, contentID, userID)
	if err != nil {
		return "", false, err
	}
	g.store(contentID, userID, role, found)
	return role, found, nil
}

func (g *Gate) resolve(ctx context.Context, contentID primitive.ObjectID, userID string) (models.Role, bool, error) {
	p, err := g.perms.Get(ctx, contentID, &userID)
	if err == nil {
		return p.Role, true, nil
	}
	if !errors.Is(err, permissionstore.ErrNotFound) {
		return "", false, err
	}

	p, err = g.perms.Get(ctx, contentID, nil)
	if errors.Is(err, permissionstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if g.spaces != nil {
		ok, err := g.spaces.HasSpaceAccess(ctx, contentID, userID)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
	}
	return p.Role, true, nil
}

// Authorize reports whether userID may perform a on the content item.
func (g *Gate) Authorize(ctx context.Context, contentID primitive.ObjectID, userID string, a Action) (bool, error) {
	if userID == "" {
		return false, nil
	}
	role, found, err := g.RoleFor(ctx, contentID, userID)
	if err != nil {
		return false, err
	}
	return found && Allows(role, a), nil
}

// Require is Authorize returning syncerr.Forbidden on denial.
func (g *Gate) Require(ctx context.Context, contentID primitive.ObjectID, userID string, a Action) error {
	ok, err := g.Authorize(ctx, contentID, userID, a)
	if err != nil {
		g.log.Error("permission lookup failed",
			zap.String("content_id", contentID.Hex()),
			zap.String("user_id", userID),
			zap.Error(err))
		return err
	}
	if !ok {
		return syncerr.E(syncerr.Forbidden, "%s not permitted", a)
	}
	return nil
}

// Grant sets userID's role (nil for all users) and drops cached answers for
// the content item.
func (g *Gate) Grant(ctx context.Context, contentID primitive.ObjectID, userID *string, role models.Role, grantedBy string) (models.ContentPermission, error) {
	if !models.IsValidRole(string(role)) {
		return models.ContentPermission{}, syncerr.E(syncerr.Invalid, "unknown role %q", role)
	}
	p, err := g.perms.Upsert(ctx, contentID, userID, role, grantedBy)
	g.Invalidate(contentID)
	return p, err
}

// Revoke removes a grant and drops cached answers for the content item.
func (g *Gate) Revoke(ctx context.Context, contentID primitive.ObjectID, userID *string) error {
	err := g.perms.Delete(ctx, contentID, userID)
	g.Invalidate(contentID)
	if errors.Is(err, permissionstore.ErrNotFound) {
		return syncerr.E(syncerr.NotFound, "no such grant")
	}
	return err
}

// Invalidate forgets every cached answer for contentID.
func (g *Gate) Invalidate(contentID primitive.ObjectID) {
	g.mu.Lock()
	delete(g.cache, contentID)
	g.mu.Unlock()
}

func (g *Gate) cached(contentID primitive.ObjectID, userID string) (cacheEntry, bool) {
	if g.ttl <= 0 {
		return cacheEntry{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.cache[contentID][userID]
	if !ok || g.Clock().After(e.expires) {
		return cacheEntry{}, false
	}
	return e, true
}

func (g *Gate) store(contentID primitive.ObjectID, userID string, role models.Role, found bool) {
	if g.ttl <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.cache[contentID]
	if m == nil {
		m = make(map[string]cacheEntry)
		g.cache[contentID] = m
	}
	m[userID] = cacheEntry{role: role, found: found, expires: g.Clock().Add(g.ttl)}
}

// StoreSpaceAccess answers SpaceAccess from the contents and spaces
// collections: a user has space access when they are a member of the space
// that owns the content item.
type StoreSpaceAccess struct {
	Contents *contentstore.Store
	Spaces   *spacestore.Store
}

func (s StoreSpaceAccess) HasSpaceAccess(ctx context.Context, contentID primitive.ObjectID, userID string) (bool, error) {
	item, err := s.Contents.GetByID(ctx, contentID)
	if errors.Is(err, contentstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Spaces.IsMember(ctx, item.SpaceID, userID)
}
