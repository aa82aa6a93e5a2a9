// internal/app/features/collab/conn.go
package collab

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/app/system/wire"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// conn is one WebSocket session. The read loop runs on the handler goroutine
// and is the only reader; writePump is the only writer.
type conn struct {
	h       *Handler
	ws      *websocket.Conn
	user    *auth.User
	content primitive.ObjectID

	sess      *presence.Session
	log       *zap.Logger
	announced bool
}

func (c *conn) run(lastSeq int64) {
	c.sess = c.h.Hub.Join(c.content.Hex(), c.user.ID)
	c.log = c.h.Log.With(
		zap.String("content_id", c.content.Hex()),
		zap.String("user_id", c.user.ID),
		zap.String("connection_id", c.sess.ConnectionID))
	c.log.Info("collab session opened", zap.Int64("last_seq", lastSeq))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	if lastSeq >= 0 {
		c.catchUp("", lastSeq)
	}
	reason := c.readPump()

	// Leave closes the send queue, which ends writePump.
	c.h.Hub.Leave(c.sess, reason)
	<-done
	if c.h.Limit != nil {
		c.h.Limit.Reset(c.sess.ConnectionID)
	}
	c.log.Info("collab session closed", zap.String("reason", reason))
}

// readPump reads frames until the socket fails and returns the leave reason.
// Any frame or pong counts as a heartbeat.
func (c *conn) readPump() string {
	wait := c.h.Hub.Config().EvictAfter()
	c.ws.SetReadLimit(c.h.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(wait))
		c.h.Hub.Touch(c.sess)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				c.log.Info("collab read timeout", zap.Error(syncerr.Wrap(syncerr.ConnectionLost, err, "heartbeat missed")))
				return presence.ReasonTimeout
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return presence.ReasonLeft
			case errors.Is(err, websocket.ErrReadLimit):
				c.log.Warn("collab frame too large", zap.Int64("limit", c.h.maxMessageBytes))
			}
			return presence.ReasonClosed
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(wait))
		c.h.Hub.Touch(c.sess)
		c.handle(data)
	}
}

// writePump drains the session queue onto the socket and pings at the
// heartbeat interval. It closes the socket on exit.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.h.Hub.Config().HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sess.Send():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("collab write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("collab ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handle dispatches one client frame.
func (c *conn) handle(data []byte) {
	m, err := wire.Decode(data)
	if err != nil {
		c.fail("", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Medium())
	defer cancel()

	if _, ok := m.(wire.Presence); !ok {
		c.ensureAnnounced(ctx)
	}

	switch m := m.(type) {
	case wire.Presence:
		c.announce(ctx, m)
	case wire.Operation:
		c.submit(ctx, m.Ref, m.Op.Draft())
	case wire.ContentUpdate:
		op, err := m.AsOperation()
		if err != nil {
			c.fail(m.Ref, err)
			return
		}
		c.submit(ctx, op.Ref, op.Op.Draft())
	case wire.CursorUpdate:
		draft := models.Operation{Type: models.OpCursor, Position: models.IntPtr(m.Position)}
		if m.Length != nil {
			draft.Type = models.OpSelection
			draft.Length = m.Length
		}
		c.submit(ctx, m.Ref, draft)
	case wire.TitleUpdate:
		if err := c.h.Coord.SetTitle(ctx, c.content, c.user.ID, m.Title, c.sess.ConnectionID); err != nil {
			c.fail(m.Ref, err)
			return
		}
		c.h.Hub.MarkActive(c.sess, nil)
		c.send(wire.Ack{Ref: m.Ref})
	case wire.Save:
		v, _, err := c.h.Coord.Save(ctx, c.content, c.user.ID)
		if err != nil {
			c.fail(m.Ref, err)
			return
		}
		c.send(wire.Ack{Ref: m.Ref, Version: v})
	case wire.CatchUp:
		c.catchUp(m.Ref, m.LastSeq)
	default:
		c.fail("", syncerr.E(syncerr.Invalid, "unsupported frame type %q", m.Kind()))
	}
}

func (c *conn) submit(ctx context.Context, ref string, draft models.Operation) {
	if c.h.Limit != nil && !c.h.Limit.Allow(c.sess.ConnectionID) {
		c.fail(ref, syncerr.E(syncerr.Timeout, "too many operations; slow down"))
		return
	}
	if draft.ClientRef == "" {
		draft.ClientRef = ref
	}
	res, err := c.h.Coord.Submit(ctx, c.content, c.user.ID, draft, c.sess.ConnectionID)
	if err != nil {
		c.fail(ref, err)
		return
	}

	var cursor *int
	if !draft.Type.Mutates() {
		cursor = draft.Position
	}
	c.h.Hub.MarkActive(c.sess, cursor)

	op := wire.FromModel(res.Op)
	c.send(wire.Ack{Ref: ref, Op: &op, Version: res.Version, Ephemeral: res.Ephemeral})
}

// announce completes the handshake on the first presence frame and updates
// name, color or cursor on later ones.
func (c *conn) announce(ctx context.Context, p wire.Presence) {
	name := p.Name
	if name == "" {
		name = c.user.Name
	}
	role, _, err := c.h.Gate.RoleFor(ctx, c.content, c.user.ID)
	if err != nil {
		c.log.Warn("role lookup for presence failed", zap.Error(err))
	}
	roster := c.h.Hub.Announce(c.sess, name, p.Color, string(role))
	if p.Cursor != nil {
		c.h.Hub.MarkActive(c.sess, p.Cursor)
	}
	if c.announced {
		return
	}
	c.announced = true

	list := wire.PresenceList{Sessions: make([]wire.Presence, 0, len(roster))}
	for _, s := range roster {
		list.Sessions = append(list.Sessions, s.Wire())
	}
	c.send(list)
}

// ensureAnnounced announces with the token's name when a client starts
// working without sending presence first.
func (c *conn) ensureAnnounced(ctx context.Context) {
	if !c.announced {
		c.announce(ctx, wire.Presence{})
	}
}

func (c *conn) catchUp(ref string, lastSeq int64) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Medium())
	defer cancel()

	ops, last, err := c.h.Coord.CatchUp(ctx, c.content, c.user.ID, lastSeq)
	if err != nil {
		c.fail(ref, err)
		return
	}
	if !c.send(wire.CatchUp{Ref: ref, LastSeq: lastSeq, Operations: wire.FromModels(ops), LastSequence: last}) {
		// The client cannot trust its state without the catch-up; make it
		// reconnect.
		c.log.Warn("catch-up dropped; closing", zap.Int("operations", len(ops)))
		_ = c.ws.Close()
	}
}

func (c *conn) fail(ref string, err error) {
	if syncerr.KindOf(err) == nil {
		c.log.Error("collab request failed", zap.String("ref", ref), zap.Error(err))
	} else {
		c.log.Debug("collab request rejected", zap.String("ref", ref), zap.Error(err))
	}
	c.send(wire.ErrorFrom(ref, err))
}

// send queues m on this session only.
func (c *conn) send(m wire.Message) bool {
	return c.h.Hub.SendTo(c.sess, wire.MustEncode(m))
}
