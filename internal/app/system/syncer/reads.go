package syncer

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Doc is a materialized view of a content item at one version.
type Doc struct {
	ContentID    primitive.ObjectID `json:"content_id"`
	Payload      string             `json:"payload"`
	Version      int64              `json:"version"`
	LastSequence int64              `json:"last_sequence"`
	Title        string             `json:"title,omitempty"`
	Archived     bool               `json:"archived,omitempty"`
}

// Create initializes a content item at version 1 with an empty payload in an
// active space the creator belongs to. The creator becomes its owner.
func (c *Coordinator) Create(ctx context.Context, spaceID primitive.ObjectID, contentType models.ContentType, creator, title string) (models.ContentItem, error) {
	if !models.IsValidContentType(string(contentType)) {
		return models.ContentItem{}, syncerr.E(syncerr.Invalid, "unknown content type %q", contentType)
	}
	if creator == "" {
		return models.ContentItem{}, syncerr.E(syncerr.Forbidden, "sign in required")
	}

	sp, err := c.spaces.GetByID(ctx, spaceID)
	if err != nil {
		return models.ContentItem{}, storeErr(err, "space")
	}
	if !sp.IsActive() {
		return models.ContentItem{}, syncerr.E(syncerr.InvalidSpace, "space is not active")
	}
	member, err := c.spaces.IsMember(ctx, spaceID, creator)
	if err != nil {
		return models.ContentItem{}, err
	}
	if !member {
		return models.ContentItem{}, syncerr.E(syncerr.Forbidden, "not a member of this space")
	}

	lctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), c.logger, "content create")
	defer cancel()
	item, err := c.contents.Create(lctx, models.ContentItem{
		SpaceID:     spaceID,
		ContentType: contentType,
		Title:       strings.TrimSpace(title),
		CreatedBy:   creator,
	})
	if err != nil {
		return models.ContentItem{}, err
	}
	if _, err := c.gate.Grant(lctx, item.ID, &creator, models.RoleOwner, creator); err != nil {
		return models.ContentItem{}, err
	}

	c.logger.Info("content created",
		zap.String("content_id", item.ID.Hex()),
		zap.String("space_id", spaceID.Hex()),
		zap.String("content_type", string(contentType)),
		zap.String("user_id", creator))
	return item, nil
}

// Current returns the live materialized payload.
func (c *Coordinator) Current(ctx context.Context, contentID primitive.ObjectID, userID string) (Doc, error) {
	st, err := c.viewable(ctx, contentID, userID)
	if err != nil {
		return Doc{}, err
	}
	return docOf(contentID, st), nil
}

// Version returns the payload as it was at version n. Versions with a stored
// snapshot are served directly; others are rebuilt from the nearest earlier
// snapshot and the log.
func (c *Coordinator) Version(ctx context.Context, contentID primitive.ObjectID, userID string, n int64) (Doc, error) {
	st, err := c.viewable(ctx, contentID, userID)
	if err != nil {
		return Doc{}, err
	}
	if n < 1 || n > st.version {
		return Doc{}, syncerr.E(syncerr.NotFound, "version %d does not exist", n)
	}
	if n == st.version {
		return docOf(contentID, st), nil
	}

	snap, err := c.contents.SnapshotAtOrBefore(ctx, contentID, n)
	if err != nil {
		return Doc{}, storeErr(err, "version")
	}
	at := &docState{
		payload: snap.Snapshot(),
		lastSeq: snap.BaseSequence,
		title:   st.title,
	}
	if snap.VersionNumber < n {
		ops, err := c.log.Range(ctx, contentID, snap.BaseSequence, n-1)
		if err != nil {
			return Doc{}, err
		}
		if err := at.replay(ops); err != nil {
			return Doc{}, err
		}
		if at.lastSeq != n-1 {
			return Doc{}, syncerr.E(syncerr.SequenceConflict, "log ends at %d before version %d", at.lastSeq, n)
		}
	}
	at.version = at.lastSeq + 1
	return docOf(contentID, at), nil
}

// CatchUp returns every operation after fromSeq in order, plus the last
// sequence known when the read happened. Calling it again with the same
// fromSeq returns the same prefix.
func (c *Coordinator) CatchUp(ctx context.Context, contentID primitive.ObjectID, userID string, fromSeq int64) ([]models.Operation, int64, error) {
	if fromSeq < 0 {
		return nil, 0, syncerr.E(syncerr.Invalid, "sequence must be >= 0")
	}
	st, err := c.viewable(ctx, contentID, userID)
	if err != nil {
		return nil, 0, err
	}

	mctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), c.logger, "catch-up")
	defer cancel()
	ops, err := c.log.Since(mctx, contentID, fromSeq, 0)
	if err != nil {
		return nil, 0, err
	}
	last := st.lastSeq
	if n := len(ops); n > 0 && ops[n-1].AppliedSequence > last {
		last = ops[n-1].AppliedSequence
	}
	return ops, last, nil
}

// History returns up to limit operations after fromSeq, for the REST layer.
func (c *Coordinator) History(ctx context.Context, contentID primitive.ObjectID, userID string, fromSeq, limit int64) ([]models.Operation, error) {
	if fromSeq < 0 {
		return nil, syncerr.E(syncerr.Invalid, "sequence must be >= 0")
	}
	if _, err := c.viewable(ctx, contentID, userID); err != nil {
		return nil, err
	}
	return c.log.Since(ctx, contentID, fromSeq, limit)
}

// OperationsBetween returns operations with from < seq <= to without a
// permission check. Comment anchors use it after their own check.
func (c *Coordinator) OperationsBetween(ctx context.Context, contentID primitive.ObjectID, from, to int64) ([]models.Operation, error) {
	return c.log.Range(ctx, contentID, from, to)
}

// Exists reports whether the content item can be loaded.
func (c *Coordinator) Exists(ctx context.Context, contentID primitive.ObjectID) error {
	_, err := c.contents.GetByID(ctx, contentID)
	if errors.Is(err, contentstore.ErrNotFound) {
		return syncerr.E(syncerr.NotFound, "content not found")
	}
	return err
}

// viewable checks view permission before loading. A cold item is first
// confirmed to exist so unknown ids report NotFound rather than Forbidden,
// and callers without access never trigger a snapshot load and replay.
func (c *Coordinator) viewable(ctx context.Context, contentID primitive.ObjectID, userID string) (*docState, error) {
	if c.cached(contentID) == nil {
		if err := c.Exists(ctx, contentID); err != nil {
			return nil, err
		}
	}
	if err := c.gate.Require(ctx, contentID, userID, contentpolicy.ActionView); err != nil {
		return nil, err
	}
	return c.state(ctx, contentID)
}

func docOf(id primitive.ObjectID, st *docState) Doc {
	return Doc{
		ContentID:    id,
		Payload:      st.payload,
		Version:      st.version,
		LastSequence: st.lastSeq,
		Title:        st.title,
		Archived:     st.archived,
	}
}
