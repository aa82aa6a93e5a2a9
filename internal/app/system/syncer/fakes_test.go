package syncer_test

import (
	"context"
	"sort"
	"sync"
	"time"

	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	operationstore "github.com/dalemusser/coedit/internal/app/store/operations"
	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

/* ------------------------------ contents ------------------------------ */

type memContents struct {
	mu       sync.Mutex
	items    map[primitive.ObjectID]models.ContentItem
	versions map[primitive.ObjectID]map[int64]models.ContentVersion

	// beforeAdvance, when set, runs before Advance touches the map.
	beforeAdvance func(ctx context.Context, id primitive.ObjectID)
}

func newMemContents() *memContents {
	return &memContents{
		items:    map[primitive.ObjectID]models.ContentItem{},
		versions: map[primitive.ObjectID]map[int64]models.ContentVersion{},
	}
}

func (m *memContents) Create(ctx context.Context, item models.ContentItem) (models.ContentItem, error) {
	item.ID = primitive.NewObjectID()
	item.CurrentVersion = 1
	item.Status = models.ContentStatusActive
	m.mu.Lock()
	m.items[item.ID] = item
	m.mu.Unlock()
	empty := ""
	_, err := m.Checkpoint(ctx, models.ContentVersion{ContentID: item.ID, VersionNumber: 1, FullSnapshot: &empty})
	return item, err
}

func (m *memContents) GetByID(_ context.Context, id primitive.ObjectID) (models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return models.ContentItem{}, contentstore.ErrNotFound
	}
	return it, nil
}

func (m *memContents) snapshots(id primitive.ObjectID) []models.ContentVersion {
	var out []models.ContentVersion
	for _, v := range m.versions[id] {
		if v.FullSnapshot != nil {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out
}

func (m *memContents) LatestSnapshot(_ context.Context, id primitive.ObjectID) (models.ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshots(id)
	if len(s) == 0 {
		return models.ContentVersion{}, contentstore.ErrVersionNotFound
	}
	return s[len(s)-1], nil
}

func (m *memContents) SnapshotAtOrBefore(_ context.Context, id primitive.ObjectID, n int64) (models.ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.ContentVersion
	for _, v := range m.snapshots(id) {
		if v.VersionNumber <= n {
			v := v
			best = &v
		}
	}
	if best == nil {
		return models.ContentVersion{}, contentstore.ErrVersionNotFound
	}
	return *best, nil
}

func (m *memContents) Checkpoint(_ context.Context, v models.ContentVersion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[v.ContentID] == nil {
		m.versions[v.ContentID] = map[int64]models.ContentVersion{}
	}
	if _, dup := m.versions[v.ContentID][v.VersionNumber]; dup {
		return false, nil
	}
	m.versions[v.ContentID][v.VersionNumber] = v
	it := m.items[v.ContentID]
	if v.BaseSequence > it.LastCheckpointSeq {
		it.LastCheckpointSeq = v.BaseSequence
		m.items[v.ContentID] = it
	}
	return true, nil
}

func (m *memContents) Advance(ctx context.Context, id primitive.ObjectID, version, lastSeq int64) error {
	if m.beforeAdvance != nil {
		m.beforeAdvance(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return contentstore.ErrNotFound
	}
	if version > it.CurrentVersion {
		it.CurrentVersion = version
	}
	if lastSeq > it.LastSequence {
		it.LastSequence = lastSeq
	}
	m.items[id] = it
	return nil
}

func (m *memContents) SetTitle(_ context.Context, id primitive.ObjectID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return contentstore.ErrNotFound
	}
	it.Title = title
	m.items[id] = it
	return nil
}

func (m *memContents) Archive(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return contentstore.ErrNotFound
	}
	it.Status = models.ContentStatusArchived
	m.items[id] = it
	return nil
}

func (m *memContents) version(id primitive.ObjectID, n int64) (models.ContentVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id][n]
	return v, ok
}

/* -------------------------------- log --------------------------------- */

type memLog struct {
	mu  sync.Mutex
	ops map[primitive.ObjectID][]models.Operation

	// beforeAppend runs outside the lock before each append attempt.
	beforeAppend func(ctx context.Context, op models.Operation)
}

func newMemLog() *memLog {
	return &memLog{ops: map[primitive.ObjectID][]models.Operation{}}
}

func (m *memLog) Append(ctx context.Context, op models.Operation) (models.Operation, error) {
	if m.beforeAppend != nil {
		m.beforeAppend(ctx, op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.ops[op.ContentID]
	switch {
	case op.AppliedSequence <= int64(len(cur)):
		return models.Operation{}, operationstore.ErrSequenceConflict
	case op.AppliedSequence != int64(len(cur))+1:
		return models.Operation{}, operationstore.ErrSequenceGap
	}
	op.ID = primitive.NewObjectID()
	m.ops[op.ContentID] = append(cur, op)
	return op, nil
}

func (m *memLog) Since(_ context.Context, id primitive.ObjectID, from int64, limit int64) ([]models.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Operation{}
	for _, op := range m.ops[id] {
		if op.AppliedSequence > from {
			out = append(out, op)
			if limit > 0 && int64(len(out)) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memLog) Range(_ context.Context, id primitive.ObjectID, from, to int64) ([]models.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Operation{}
	for _, op := range m.ops[id] {
		if op.AppliedSequence > from && op.AppliedSequence <= to {
			out = append(out, op)
		}
	}
	return out, nil
}

// appendForeign writes an op as if another node had taken the next sequence.
func (m *memLog) appendForeign(op models.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.ID = primitive.NewObjectID()
	op.AppliedSequence = int64(len(m.ops[op.ContentID])) + 1
	m.ops[op.ContentID] = append(m.ops[op.ContentID], op)
}

/* ------------------------------- spaces ------------------------------- */

type memSpaces struct {
	spaces map[primitive.ObjectID]models.CollaborativeSpace
}

func (m *memSpaces) GetByID(_ context.Context, id primitive.ObjectID) (models.CollaborativeSpace, error) {
	sp, ok := m.spaces[id]
	if !ok {
		return models.CollaborativeSpace{}, spacestore.ErrNotFound
	}
	return sp, nil
}

func (m *memSpaces) IsMember(_ context.Context, id primitive.ObjectID, userID string) (bool, error) {
	for _, u := range m.spaces[id].MemberIDs {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

/* ---------------------------- permissions ----------------------------- */

type memPerms struct {
	mu   sync.Mutex
	rows map[string]models.ContentPermission
}

func permKey(cid primitive.ObjectID, uid *string) string {
	if uid == nil {
		return cid.Hex() + "|*"
	}
	return cid.Hex() + "|" + *uid
}

func (m *memPerms) Get(_ context.Context, cid primitive.ObjectID, uid *string) (models.ContentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[permKey(cid, uid)]
	if !ok {
		return models.ContentPermission{}, permissionstore.ErrNotFound
	}
	return p, nil
}

func (m *memPerms) Upsert(_ context.Context, cid primitive.ObjectID, uid *string, role models.Role, by string) (models.ContentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := models.ContentPermission{ContentID: cid, UserID: uid, Role: role, GrantedBy: by, CreatedAt: time.Now()}
	m.rows[permKey(cid, uid)] = p
	return p, nil
}

func (m *memPerms) Delete(_ context.Context, cid primitive.ObjectID, uid *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[permKey(cid, uid)]; !ok {
		return permissionstore.ErrNotFound
	}
	delete(m.rows, permKey(cid, uid))
	return nil
}

/* -------------------------------- relay ------------------------------- */

type recordingRelay struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingRelay) Publish(_ context.Context, contentID string, frame []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, contentID+" "+string(frame))
	r.mu.Unlock()
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
