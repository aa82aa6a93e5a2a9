package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	operationstore "github.com/dalemusser/coedit/internal/app/store/operations"
	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/app/system/indexes"
	"github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	return WithChiURLParams(r, map[string]string{key: value})
}

// WithChiURLParams adds several chi URL parameters at once.
func WithChiURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateSpace creates an active space owned by owner. Owner is always a
// member; extra members are added as given.
func (f *Fixtures) CreateSpace(ctx context.Context, name, owner string, members ...string) models.CollaborativeSpace {
	f.t.Helper()

	sp, err := spacestore.New(f.db).Create(ctx, models.CollaborativeSpace{
		Name:      name,
		OwnerID:   owner,
		MemberIDs: members,
	})
	if err != nil {
		f.t.Fatalf("CreateSpace(%q): %v", name, err)
	}
	return sp
}

// Engine is the collaboration core wired against a test database with no
// relay and no presence mirror.
type Engine struct {
	Contents    *contentstore.Store
	Operations  *operationstore.Store
	Permissions *permissionstore.Store
	Spaces      *spacestore.Store
	Gate        *contentpolicy.Gate
	Hub         *presence.Hub
	Coord       *syncer.Coordinator
}

// NewEngine ensures indexes on db and builds the core with small defaults
// suited to tests: permission caching off and a short lock wait.
func NewEngine(t *testing.T, db *mongo.Database) *Engine {
	t.Helper()

	ctx, cancel := TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}

	e := &Engine{
		Contents:    contentstore.New(db),
		Operations:  operationstore.New(db),
		Permissions: permissionstore.New(db),
		Spaces:      spacestore.New(db),
	}
	e.Gate = contentpolicy.New(e.Permissions, contentpolicy.StoreSpaceAccess{Contents: e.Contents, Spaces: e.Spaces}, 0, zap.NewNop())
	e.Hub = presence.NewHub(presence.Config{HeartbeatInterval: time.Second, MissedBeats: 2, QueueSize: 64}, nil, zap.NewNop())
	e.Coord = syncer.New(syncer.Config{CheckpointEvery: 5, LockWait: 2 * time.Second}, syncer.Deps{
		Contents: e.Contents,
		Log:      e.Operations,
		Spaces:   e.Spaces,
		Gate:     e.Gate,
		Hub:      e.Hub,
		Logger:   zap.NewNop(),
	})
	t.Cleanup(e.Hub.Close)
	return e
}

// CreateContent creates a text item in spaceID owned by owner.
func (e *Engine) CreateContent(t *testing.T, spaceID primitive.ObjectID, owner, title string) models.ContentItem {
	t.Helper()
	ctx, cancel := TestContext()
	defer cancel()
	item, err := e.Coord.Create(ctx, spaceID, models.ContentText, owner, title)
	if err != nil {
		t.Fatalf("Create content: %v", err)
	}
	return item
}

// Grant gives userID (nil for all users) role on contentID.
func (e *Engine) Grant(t *testing.T, contentID primitive.ObjectID, userID *string, role models.Role) {
	t.Helper()
	ctx, cancel := TestContext()
	defer cancel()
	if _, err := e.Gate.Grant(ctx, contentID, userID, role, "test"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
}
