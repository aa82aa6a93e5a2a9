package contentpolicy_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/coedit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type memPerms struct {
	mu    sync.Mutex
	rows  map[string]models.ContentPermission
	reads int
}

func newMemPerms() *memPerms { return &memPerms{rows: map[string]models.ContentPermission{}} }

func key(cid primitive.ObjectID, uid *string) string {
	if uid == nil {
		return cid.Hex() + "|*"
	}
	return cid.Hex() + "|" + *uid
}

func (m *memPerms) Get(_ context.Context, cid primitive.ObjectID, uid *string) (models.ContentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	p, ok := m.rows[key(cid, uid)]
	if !ok {
		return models.ContentPermission{}, permissionstore.ErrNotFound
	}
	return p, nil
}

func (m *memPerms) Upsert(_ context.Context, cid primitive.ObjectID, uid *string, role models.Role, by string) (models.ContentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := models.ContentPermission{ContentID: cid, UserID: uid, Role: role, GrantedBy: by}
	m.rows[key(cid, uid)] = p
	return p, nil
}

func (m *memPerms) Delete(_ context.Context, cid primitive.ObjectID, uid *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(cid, uid)
	if _, ok := m.rows[k]; !ok {
		return permissionstore.ErrNotFound
	}
	delete(m.rows, k)
	return nil
}

type denySpace struct{}

func (denySpace) HasSpaceAccess(context.Context, primitive.ObjectID, string) (bool, error) {
	return false, nil
}

func strPtr(s string) *string { return &s }

func TestAllows_Matrix(t *testing.T) {
	cases := []struct {
		role models.Role
		want map[contentpolicy.Action]bool
	}{
		{models.RoleOwner, map[contentpolicy.Action]bool{"view": true, "comment": true, "edit": true, "manage_access": true}},
		{models.RoleEditor, map[contentpolicy.Action]bool{"view": true, "comment": true, "edit": true, "manage_access": false}},
		{models.RoleCommenter, map[contentpolicy.Action]bool{"view": true, "comment": true, "edit": false, "manage_access": false}},
		{models.RoleViewer, map[contentpolicy.Action]bool{"view": true, "comment": false, "edit": false, "manage_access": false}},
		{models.Role("bogus"), map[contentpolicy.Action]bool{"view": false, "comment": false, "edit": false, "manage_access": false}},
	}
	for _, tc := range cases {
		for a, want := range tc.want {
			assert.Equal(t, want, contentpolicy.Allows(tc.role, a), "%s/%s", tc.role, a)
		}
	}
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, contentpolicy.ActionEdit, contentpolicy.ActionFor(models.OpInsert))
	assert.Equal(t, contentpolicy.ActionEdit, contentpolicy.ActionFor(models.OpDelete))
	assert.Equal(t, contentpolicy.ActionEdit, contentpolicy.ActionFor(models.OpFormat))
	assert.Equal(t, contentpolicy.ActionView, contentpolicy.ActionFor(models.OpCursor))
	assert.Equal(t, contentpolicy.ActionView, contentpolicy.ActionFor(models.OpSelection))
}

func TestGate_ResolutionOrder(t *testing.T) {
	ctx := context.Background()
	perms := newMemPerms()
	g := contentpolicy.New(perms, nil, 0, zap.NewNop())
	cid := primitive.NewObjectID()

	ok, err := g.Authorize(ctx, cid, "alice", contentpolicy.ActionView)
	require.NoError(t, err)
	assert.False(t, ok, "no rows means deny")

	_, err = g.Grant(ctx, cid, nil, models.RoleCommenter, "owner")
	require.NoError(t, err)
	ok, err = g.Authorize(ctx, cid, "alice", contentpolicy.ActionComment)
	require.NoError(t, err)
	assert.True(t, ok, "default row applies")

	// Exact row wins even when it is lower than the default.
	_, err = g.Grant(ctx, cid, strPtr("alice"), models.RoleViewer, "owner")
	require.NoError(t, err)
	ok, err = g.Authorize(ctx, cid, "alice", contentpolicy.ActionComment)
	require.NoError(t, err)
	assert.False(t, ok)

	err = g.Require(ctx, cid, "alice", contentpolicy.ActionEdit)
	assert.ErrorIs(t, err, syncerr.Forbidden)

	ok, err = g.Authorize(ctx, cid, "", contentpolicy.ActionView)
	require.NoError(t, err)
	assert.False(t, ok, "anonymous is always denied")
}

func TestGate_DefaultRowNeedsSpaceAccess(t *testing.T) {
	ctx := context.Background()
	perms := newMemPerms()
	g := contentpolicy.New(perms, denySpace{}, 0, zap.NewNop())
	cid := primitive.NewObjectID()

	_, err := g.Grant(ctx, cid, nil, models.RoleEditor, "owner")
	require.NoError(t, err)
	ok, err := g.Authorize(ctx, cid, "outsider", contentpolicy.ActionView)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.Grant(ctx, cid, strPtr("outsider"), models.RoleViewer, "owner")
	require.NoError(t, err)
	ok, err = g.Authorize(ctx, cid, "outsider", contentpolicy.ActionView)
	require.NoError(t, err)
	assert.True(t, ok, "exact grant does not need space access")
}

func TestGate_CacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	perms := newMemPerms()
	g := contentpolicy.New(perms, nil, 2*time.Second, zap.NewNop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.Clock = func() time.Time { return now }
	cid := primitive.NewObjectID()

	_, err := g.Grant(ctx, cid, strPtr("alice"), models.RoleEditor, "owner")
	require.NoError(t, err)

	_, _, err = g.RoleFor(ctx, cid, "alice")
	require.NoError(t, err)
	reads := perms.reads
	_, _, err = g.RoleFor(ctx, cid, "alice")
	require.NoError(t, err)
	assert.Equal(t, reads, perms.reads, "second lookup served from cache")

	// A grant through the gate is visible immediately.
	_, err = g.Grant(ctx, cid, strPtr("alice"), models.RoleViewer, "owner")
	require.NoError(t, err)
	role, found, err := g.RoleFor(ctx, cid, "alice")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.RoleViewer, role)

	// A change made elsewhere is visible once the TTL passes.
	_, _ = perms.Upsert(ctx, cid, strPtr("alice"), models.RoleOwner, "other-node")
	role, _, _ = g.RoleFor(ctx, cid, "alice")
	assert.Equal(t, models.RoleViewer, role)
	now = now.Add(3 * time.Second)
	role, _, _ = g.RoleFor(ctx, cid, "alice")
	assert.Equal(t, models.RoleOwner, role)
}

func TestGate_RevokeAndValidation(t *testing.T) {
	ctx := context.Background()
	g := contentpolicy.New(newMemPerms(), nil, time.Minute, zap.NewNop())
	cid := primitive.NewObjectID()

	_, err := g.Grant(ctx, cid, strPtr("alice"), models.Role("admin"), "owner")
	assert.ErrorIs(t, err, syncerr.Invalid)

	_, err = g.Grant(ctx, cid, strPtr("alice"), models.RoleEditor, "owner")
	require.NoError(t, err)
	ok, _ := g.Authorize(ctx, cid, "alice", contentpolicy.ActionEdit)
	require.True(t, ok)

	require.NoError(t, g.Revoke(ctx, cid, strPtr("alice")))
	ok, _ = g.Authorize(ctx, cid, "alice", contentpolicy.ActionView)
	assert.False(t, ok)

	assert.ErrorIs(t, g.Revoke(ctx, cid, strPtr("alice")), syncerr.NotFound)
}

func TestStoreSpaceAccess(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	spaces := spacestore.New(db)
	contents := contentstore.New(db)
	sp, err := spaces.Create(ctx, models.CollaborativeSpace{Name: "Team", OwnerID: "alice"})
	require.NoError(t, err)
	item, err := contents.Create(ctx, models.ContentItem{SpaceID: sp.ID, ContentType: models.ContentText, CreatedBy: "alice"})
	require.NoError(t, err)

	access := contentpolicy.StoreSpaceAccess{Contents: contents, Spaces: spaces}
	ok, err := access.HasSpaceAccess(ctx, item.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = access.HasSpaceAccess(ctx, item.ID, "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = access.HasSpaceAccess(ctx, primitive.NewObjectID(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}
