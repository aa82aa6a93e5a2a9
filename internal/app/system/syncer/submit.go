package syncer

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/textops"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/app/system/wire"
	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// MaxTitleLength bounds titles, counted in runes.
const MaxTitleLength = 200

// Result is the acknowledgment of a submitted operation.
type Result struct {
	Op        models.Operation
	Version   int64
	Ephemeral bool
}

// Submit accepts an operation draft from userID. origin is the submitting
// connection id, excluded from the broadcast ("" for REST callers).
//
// Mutating operations are stamped with the next appliedSequence, logged,
// applied and broadcast. Cursor and selection operations are validated and
// broadcast but never logged; they come back with Ephemeral set and the
// current last sequence.
func (c *Coordinator) Submit(ctx context.Context, contentID primitive.ObjectID, userID string, draft models.Operation, origin string) (Result, error) {
	if !models.IsValidOpType(draft.Type) {
		return Result{}, syncerr.E(syncerr.InvalidOperation, "unknown operation type %q", draft.Type)
	}
	if err := c.gate.Require(ctx, contentID, userID, contentpolicy.ActionFor(draft.Type)); err != nil {
		return Result{}, err
	}

	draft.ID = primitive.NilObjectID
	draft.ContentID = contentID
	draft.UserID = userID
	draft.AppliedSequence = 0

	if !draft.Type.Mutates() {
		return c.submitEphemeral(ctx, contentID, draft, origin)
	}

	e, err := c.acquire(ctx, contentID)
	if err != nil {
		return Result{}, err
	}
	op, st, err := c.commitLocked(ctx, contentID, e, draft)
	e.release()
	if err != nil {
		return Result{}, err
	}

	c.fanOut(contentID, wire.Operation{UserID: userID, Op: ptr(wire.FromModel(op))}, origin)
	c.advance(ctx, contentID, st)
	return Result{Op: op, Version: st.version}, nil
}

// commitLocked runs steps 3–6 under e's lock: stamp, apply, append and
// checkpoint. A sequence conflict means the log moved underneath the cached
// state; the entry is dropped so the next writer reloads, and the op is
// rejected rather than re-stamped at a later sequence.
func (c *Coordinator) commitLocked(ctx context.Context, id primitive.ObjectID, e *entry, draft models.Operation) (models.Operation, *docState, error) {
	st, err := c.stateLocked(ctx, id, e)
	if err != nil {
		return models.Operation{}, nil, err
	}
	if st.archived {
		return models.Operation{}, nil, syncerr.E(syncerr.Forbidden, "content is archived")
	}

	op := draft
	op.AppliedSequence = st.lastSeq + 1
	if op.Version <= 0 {
		op.Version = st.version
	}
	op.CreatedAt = c.Clock().UTC()

	payload, err := textops.Apply(st.payload, op)
	if err != nil {
		return models.Operation{}, nil, err
	}

	actx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.logger, "operation append")
	stored, err := c.log.Append(actx, op)
	cancel()
	if err != nil {
		mapped := storeErr(err, "operation")
		if errors.Is(mapped, syncerr.SequenceConflict) {
			c.logger.Error("sequence conflict on append",
				zap.String("content_id", id.Hex()),
				zap.Int64("seq", op.AppliedSequence),
				zap.Error(err))
			e.state.Store(nil)
		}
		return models.Operation{}, nil, mapped
	}

	next := &docState{
		payload:           payload,
		version:           stored.AppliedSequence + 1,
		lastSeq:           stored.AppliedSequence,
		lastCheckpointSeq: st.lastCheckpointSeq,
		title:             st.title,
		archived:          st.archived,
	}
	if next.lastSeq-next.lastCheckpointSeq >= c.cfg.CheckpointEvery {
		c.checkpointLocked(ctx, id, next, stored.UserID)
	}
	e.state.Store(next)
	return stored, next, nil
}

// advance moves the stored counters forward. It runs after the lock is
// released; the store's $max update keeps late writes from regressing them.
func (c *Coordinator) advance(ctx context.Context, id primitive.ObjectID, st *docState) {
	actx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), c.logger, "content advance")
	defer cancel()
	if err := c.contents.Advance(actx, id, st.version, st.lastSeq); err != nil {
		c.logger.Warn("advance content counters failed",
			zap.String("content_id", id.Hex()),
			zap.Int64("seq", st.lastSeq),
			zap.Error(err))
	}
}

// checkpointLocked persists st as a ContentVersion. On success it records the
// new checkpoint in st, which must not have been published yet.
func (c *Coordinator) checkpointLocked(ctx context.Context, id primitive.ObjectID, st *docState, by string) bool {
	payload := st.payload
	v := models.ContentVersion{
		ContentID:     id,
		VersionNumber: st.version,
		FullSnapshot:  &payload,
		BaseSequence:  st.lastSeq,
		DiffFromPrevious: &models.SequenceRange{
			FromSeq: st.lastCheckpointSeq + 1,
			ToSeq:   st.lastSeq,
		},
		CreatedBy: by,
		CreatedAt: c.Clock().UTC(),
	}

	cctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), c.logger, "checkpoint")
	defer cancel()
	created, err := c.contents.Checkpoint(cctx, v)
	if err != nil {
		c.logger.Warn("checkpoint failed",
			zap.String("content_id", id.Hex()),
			zap.Int64("version", v.VersionNumber),
			zap.Error(err))
		return false
	}
	st.lastCheckpointSeq = st.lastSeq
	c.logger.Debug("checkpoint",
		zap.String("content_id", id.Hex()),
		zap.Int64("version", v.VersionNumber),
		zap.Bool("created", created))
	return true
}

func (c *Coordinator) submitEphemeral(ctx context.Context, id primitive.ObjectID, op models.Operation, origin string) (Result, error) {
	st, err := c.state(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := textops.Validate(op, textops.Len(st.payload)); err != nil {
		return Result{}, err
	}
	op.AppliedSequence = st.lastSeq
	if op.Version <= 0 {
		op.Version = st.version
	}
	op.CreatedAt = c.Clock().UTC()

	frame := wire.CursorUpdate{UserID: op.UserID, Position: op.Pos()}
	if op.Type == models.OpSelection {
		frame.Length = op.Length
	}
	c.fanOut(id, frame, origin)
	return Result{Op: op, Version: st.version, Ephemeral: true}, nil
}

// Save checkpoints the current state on request. It is a no-op when nothing
// was applied since the last checkpoint.
func (c *Coordinator) Save(ctx context.Context, contentID primitive.ObjectID, userID string) (version int64, saved bool, err error) {
	if err := c.gate.Require(ctx, contentID, userID, contentpolicy.ActionEdit); err != nil {
		return 0, false, err
	}
	e, err := c.acquire(ctx, contentID)
	if err != nil {
		return 0, false, err
	}
	defer e.release()

	st, err := c.stateLocked(ctx, contentID, e)
	if err != nil {
		return 0, false, err
	}
	if st.lastSeq == st.lastCheckpointSeq {
		return st.version, false, nil
	}
	next := *st
	if !c.checkpointLocked(ctx, contentID, &next, userID) {
		return 0, false, syncerr.E(syncerr.Timeout, "checkpoint could not be written; retry")
	}
	e.state.Store(&next)
	return next.version, true, nil
}

// SetTitle renames the content item and tells other sessions.
func (c *Coordinator) SetTitle(ctx context.Context, contentID primitive.ObjectID, userID, title, origin string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return syncerr.E(syncerr.Invalid, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return syncerr.E(syncerr.Invalid, "title is longer than %d characters", MaxTitleLength)
	}
	if err := c.gate.Require(ctx, contentID, userID, contentpolicy.ActionEdit); err != nil {
		return err
	}

	e, err := c.acquire(ctx, contentID)
	if err != nil {
		return err
	}
	st, err := c.stateLocked(ctx, contentID, e)
	if err == nil && st.archived {
		err = syncerr.E(syncerr.Forbidden, "content is archived")
	}
	if err == nil {
		err = storeErr(c.contents.SetTitle(ctx, contentID, title), "content")
	}
	if err == nil {
		next := *st
		next.title = title
		e.state.Store(&next)
	}
	e.release()
	if err != nil {
		return err
	}

	c.fanOut(contentID, wire.TitleUpdate{UserID: userID, Title: title}, origin)
	return nil
}

// Archive stops further edits on the item. Only owners may archive; the item
// and its history stay readable.
func (c *Coordinator) Archive(ctx context.Context, contentID primitive.ObjectID, userID string) error {
	if err := c.gate.Require(ctx, contentID, userID, contentpolicy.ActionManageAccess); err != nil {
		return err
	}
	e, err := c.acquire(ctx, contentID)
	if err != nil {
		return err
	}
	defer e.release()

	st, err := c.stateLocked(ctx, contentID, e)
	if err != nil {
		return err
	}
	if st.archived {
		return nil
	}
	if err := c.contents.Archive(ctx, contentID); err != nil {
		return storeErr(err, "content")
	}
	next := *st
	next.archived = true
	e.state.Store(&next)
	c.logger.Info("content archived",
		zap.String("content_id", contentID.Hex()),
		zap.String("user_id", userID))
	return nil
}

// fanOut broadcasts m to local sessions except origin, then to other nodes.
func (c *Coordinator) fanOut(id primitive.ObjectID, m wire.Message, origin string) {
	frame := wire.MustEncode(m)
	if c.hub != nil {
		c.hub.Broadcast(id.Hex(), frame, origin)
	}
	if c.relay != nil {
		ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Short(), c.logger, "relay publish")
		defer cancel()
		if err := c.relay.Publish(ctx, id.Hex(), frame); err != nil {
			c.logger.Warn("relay publish failed",
				zap.String("content_id", id.Hex()),
				zap.String("kind", string(m.Kind())),
				zap.Error(err))
		}
	}
}

func ptr[T any](v T) *T { return &v }
