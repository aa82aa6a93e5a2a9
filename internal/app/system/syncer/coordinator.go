// Package syncer is the serialization point of the collaboration core.
//
// Each content item has one entry holding a 1-slot channel lock and an
// atomically swapped docState. Writers for the same item take the lock for
// validate → stamp → append → checkpoint and release it before fanning out;
// writers for different items never touch each other's entry. Readers load
// the state pointer without locking and see either the state before or after
// an operation, never a partial one.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	operationstore "github.com/dalemusser/coedit/internal/app/store/operations"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/textops"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/app/system/wire"
	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultCheckpointEvery is K, the number of operations between automatic
// snapshots.
const DefaultCheckpointEvery = 50

// ContentStore is the part of the contents store the coordinator uses.
type ContentStore interface {
	Create(ctx context.Context, item models.ContentItem) (models.ContentItem, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.ContentItem, error)
	LatestSnapshot(ctx context.Context, id primitive.ObjectID) (models.ContentVersion, error)
	SnapshotAtOrBefore(ctx context.Context, id primitive.ObjectID, n int64) (models.ContentVersion, error)
	Checkpoint(ctx context.Context, v models.ContentVersion) (bool, error)
	Advance(ctx context.Context, id primitive.ObjectID, version, lastSeq int64) error
	SetTitle(ctx context.Context, id primitive.ObjectID, title string) error
	Archive(ctx context.Context, id primitive.ObjectID) error
}

// OperationLog is the part of the operations store the coordinator uses.
type OperationLog interface {
	Append(ctx context.Context, op models.Operation) (models.Operation, error)
	Since(ctx context.Context, contentID primitive.ObjectID, from int64, limit int64) ([]models.Operation, error)
	Range(ctx context.Context, contentID primitive.ObjectID, from, to int64) ([]models.Operation, error)
}

// SpaceStore resolves collaboration spaces for content creation.
type SpaceStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.CollaborativeSpace, error)
	IsMember(ctx context.Context, id primitive.ObjectID, userID string) (bool, error)
}

// Gate authorizes actions. *contentpolicy.Gate satisfies it.
type Gate interface {
	Require(ctx context.Context, contentID primitive.ObjectID, userID string, a contentpolicy.Action) error
	Grant(ctx context.Context, contentID primitive.ObjectID, userID *string, role models.Role, grantedBy string) (models.ContentPermission, error)
}

// Broadcaster fans frames out to local sessions. *presence.Hub satisfies it.
type Broadcaster interface {
	Broadcast(contentID string, frame []byte, exclude string) int
}

// Publisher forwards frames to other nodes. *relay.Relay satisfies it.
type Publisher interface {
	Publish(ctx context.Context, contentID string, frame []byte) error
}

// Config tunes the coordinator.
type Config struct {
	CheckpointEvery int64         // K; default 50
	LockWait        time.Duration // default timeouts.LockWait()
	IdleTTL         time.Duration // Prune drops entries idle this long; default 10m
}

// docState is the materialized view of one content item. It is immutable
// once published through entry.state.
type docState struct {
	payload           string
	version           int64
	lastSeq           int64
	lastCheckpointSeq int64
	title             string
	archived          bool
}

type entry struct {
	lock     chan struct{}
	state    atomic.Pointer[docState]
	lastUsed atomic.Int64
	dead     atomic.Bool
}

func newEntry() *entry {
	return &entry{lock: make(chan struct{}, 1)}
}

func (e *entry) release() { <-e.lock }

// Coordinator accepts operations and answers catch-up and content reads.
type Coordinator struct {
	cfg      Config
	contents ContentStore
	log      OperationLog
	spaces   SpaceStore
	gate     Gate
	hub      Broadcaster
	relay    Publisher
	logger   *zap.Logger

	// Clock is replaceable in tests.
	Clock func() time.Time

	entries sync.Map // primitive.ObjectID → *entry
}

// Deps groups the coordinator's collaborators. Relay may be nil.
type Deps struct {
	Contents ContentStore
	Log      OperationLog
	Spaces   SpaceStore
	Gate     Gate
	Hub      Broadcaster
	Relay    Publisher
	Logger   *zap.Logger
}

// New builds a Coordinator.
func New(cfg Config, d Deps) *Coordinator {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		contents: d.Contents,
		log:      d.Log,
		spaces:   d.Spaces,
		gate:     d.Gate,
		hub:      d.Hub,
		relay:    d.Relay,
		logger:   logger,
		Clock:    time.Now,
	}
}

func (c *Coordinator) lockWait() time.Duration {
	if c.cfg.LockWait > 0 {
		return c.cfg.LockWait
	}
	return timeouts.LockWait()
}

func (c *Coordinator) entryFor(id primitive.ObjectID) *entry {
	if v, ok := c.entries.Load(id); ok {
		return v.(*entry)
	}
	v, _ := c.entries.LoadOrStore(id, newEntry())
	return v.(*entry)
}

// acquire takes id's write lock, bounded by the lock wait and ctx.
func (c *Coordinator) acquire(ctx context.Context, id primitive.ObjectID) (*entry, error) {
	timer := time.NewTimer(c.lockWait())
	defer timer.Stop()

	for {
		e := c.entryFor(id)
		select {
		case e.lock <- struct{}{}:
		case <-timer.C:
			return nil, syncerr.E(syncerr.Timeout, "content %s is busy; retry", id.Hex())
		case <-ctx.Done():
			return nil, syncerr.Wrap(syncerr.Timeout, ctx.Err(), "gave up waiting for content lock")
		}
		if e.dead.Load() {
			// Pruned while we waited; use the replacement entry.
			e.release()
			continue
		}
		e.lastUsed.Store(c.Clock().UnixNano())
		return e, nil
	}
}

// loadLocked rebuilds the state of id from its latest snapshot plus the log.
// Caller holds e's lock.
func (c *Coordinator) loadLocked(ctx context.Context, id primitive.ObjectID, e *entry) (*docState, error) {
	item, err := c.contents.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "content")
	}
	snap, err := c.contents.LatestSnapshot(ctx, id)
	if err != nil {
		return nil, storeErr(err, "snapshot")
	}
	ops, err := c.log.Since(ctx, id, snap.BaseSequence, 0)
	if err != nil {
		return nil, err
	}

	st := &docState{
		payload:           snap.Snapshot(),
		lastSeq:           snap.BaseSequence,
		lastCheckpointSeq: snap.BaseSequence,
		title:             item.Title,
		archived:          item.IsArchived(),
	}
	if err := st.replay(ops); err != nil {
		c.logger.Error("operation log is inconsistent",
			zap.String("content_id", id.Hex()),
			zap.Int64("base_seq", snap.BaseSequence),
			zap.Error(err))
		return nil, err
	}
	st.version = st.lastSeq + 1
	e.state.Store(st)
	return st, nil
}

// replay applies ops in order, requiring a gapless sequence after lastSeq.
func (st *docState) replay(ops []models.Operation) error {
	for _, op := range ops {
		if op.AppliedSequence != st.lastSeq+1 {
			return syncerr.E(syncerr.SequenceConflict, "expected sequence %d, found %d", st.lastSeq+1, op.AppliedSequence)
		}
		next, err := textops.Apply(st.payload, op)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", op.AppliedSequence, err)
		}
		st.payload = next
		st.lastSeq = op.AppliedSequence
	}
	return nil
}

// stateLocked returns the cached state, loading it if needed.
func (c *Coordinator) stateLocked(ctx context.Context, id primitive.ObjectID, e *entry) (*docState, error) {
	if st := e.state.Load(); st != nil {
		return st, nil
	}
	return c.loadLocked(ctx, id, e)
}

// state returns a consistent state for reads. A cached state is returned
// without locking; a cold item is loaded under its lock.
func (c *Coordinator) state(ctx context.Context, id primitive.ObjectID) (*docState, error) {
	if v, ok := c.entries.Load(id); ok {
		e := v.(*entry)
		if st := e.state.Load(); st != nil {
			e.lastUsed.Store(c.Clock().UnixNano())
			return st, nil
		}
	}
	e, err := c.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.release()
	return c.stateLocked(ctx, id, e)
}

// cached returns the published state of id without loading it, or nil.
func (c *Coordinator) cached(id primitive.ObjectID) *docState {
	if v, ok := c.entries.Load(id); ok {
		return v.(*entry).state.Load()
	}
	return nil
}

// Invalidate forgets the cached state of id. The next access reloads it from
// storage. Used when another node wrote to the item.
func (c *Coordinator) Invalidate(id primitive.ObjectID) {
	if v, ok := c.entries.Load(id); ok {
		v.(*entry).state.Store(nil)
	}
}

// Cached reports how many content items currently have an entry.
func (c *Coordinator) Cached() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Prune drops entries that have been idle for IdleTTL and are not locked.
func (c *Coordinator) Prune(now time.Time) int {
	cutoff := now.Add(-c.cfg.IdleTTL).UnixNano()
	n := 0
	c.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if e.lastUsed.Load() > cutoff {
			return true
		}
		select {
		case e.lock <- struct{}{}:
			e.dead.Store(true)
			c.entries.Delete(k)
			e.release()
			n++
		default:
		}
		return true
	})
	return n
}

// storeErr maps store sentinels onto the error taxonomy.
func storeErr(err error, what string) error {
	switch {
	case errors.Is(err, contentstore.ErrNotFound):
		return syncerr.E(syncerr.NotFound, "%s not found", what)
	case errors.Is(err, contentstore.ErrVersionNotFound):
		return syncerr.E(syncerr.NotFound, "%s not found", what)
	case errors.Is(err, spacestore.ErrNotFound):
		return syncerr.E(syncerr.InvalidSpace, "space not found")
	case errors.Is(err, operationstore.ErrSequenceConflict), errors.Is(err, operationstore.ErrSequenceGap):
		return syncerr.Wrap(syncerr.SequenceConflict, err, "operation log rejected sequence")
	}
	return err
}

// ApplyRemote delivers a frame relayed from another node to local sessions.
// Frames that change the item invalidate the cached state so the next access
// rebuilds it from storage.
func (c *Coordinator) ApplyRemote(contentID string, frame []byte) {
	id, err := primitive.ObjectIDFromHex(contentID)
	if err != nil {
		c.logger.Warn("relay frame for bad content id", zap.String("content_id", contentID))
		return
	}
	var head struct {
		Type wire.Kind `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		c.logger.Warn("relay frame is not json", zap.String("content_id", contentID), zap.Error(err))
		return
	}
	switch head.Type {
	case wire.KindOperation, wire.KindContentUpdate, wire.KindTitleUpdate:
		c.Invalidate(id)
	}
	if c.hub != nil {
		c.hub.Broadcast(contentID, frame, "")
	}
}
