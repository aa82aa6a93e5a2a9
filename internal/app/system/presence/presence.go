// Package presence tracks live sessions per content item and fans events out
// to them.
//
// Sessions move connecting → connected → (idle ↔ active) → disconnected.
// The hub never blocks on a slow session: each session owns a bounded send
// queue and a full queue drops the frame for that session only. Missed frames
// are recovered by the client through catch-up, never by replay here.
package presence

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	presencestore "github.com/dalemusser/coedit/internal/app/store/presence"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/app/system/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State of a session.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateIdle         State = "idle"
	StateActive       State = "active"
	StateDisconnected State = "disconnected"
)

// Leave reasons carried on presence_removed.
const (
	ReasonLeft     = "left"
	ReasonClosed   = "connection_closed"
	ReasonTimeout  = "heartbeat_timeout"
	ReasonShutdown = "shutdown"
)

// Mirror receives presence changes for cross-node visibility. Calls happen
// outside the hub lock and failures are only logged.
type Mirror interface {
	Put(ctx context.Context, contentID string, e presencestore.Entry) error
	Remove(ctx context.Context, contentID, connectionID string) error
}

// Config controls heartbeat and queueing.
type Config struct {
	HeartbeatInterval time.Duration // default 30s
	MissedBeats       int           // default 2
	QueueSize         int           // default 256
	Node              string        // reported to the mirror
}

func (c *Config) norm() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MissedBeats <= 0 {
		c.MissedBeats = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// EvictAfter is how long a silent session survives.
func (c Config) EvictAfter() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MissedBeats)
}

// Session is one connection to one content item. Mutable fields are guarded
// by the hub lock.
type Session struct {
	ConnectionID string
	ContentID    string
	UserID       string
	JoinedAt     time.Time

	name, color, permission string
	state                   State
	cursor                  *int
	lastSeenAt              time.Time
	lastActiveAt            time.Time

	send  chan []byte
	drops atomic.Int64
}

// Send is the session's outbound queue. It is closed when the session leaves
// or is evicted.
func (s *Session) Send() <-chan []byte { return s.send }

// Drops counts frames discarded because the queue was full.
func (s *Session) Drops() int64 { return s.drops.Load() }

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ConnectionID string
	ContentID    string
	UserID       string
	Name         string
	Color        string
	Permission   string
	State        State
	Cursor       *int
	JoinedAt     time.Time
	LastSeenAt   time.Time
}

// Wire renders the snapshot as a presence frame.
func (s Snapshot) Wire() wire.Presence {
	return wire.Presence{
		UserID:       s.UserID,
		Name:         s.Name,
		Color:        s.Color,
		Permission:   s.Permission,
		ConnectionID: s.ConnectionID,
		State:        string(s.State),
		Cursor:       s.Cursor,
	}
}

// Hub holds every session of this process.
type Hub struct {
	cfg    Config
	log    *zap.Logger
	mirror Mirror

	// Clock is replaceable in tests.
	Clock func() time.Time

	mu    sync.RWMutex
	rooms map[string]map[string]*Session // contentID → connectionID → session
}

// NewHub builds a Hub. mirror may be nil.
func NewHub(cfg Config, mirror Mirror, logger *zap.Logger) *Hub {
	cfg.norm()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:    cfg,
		log:    logger,
		mirror: mirror,
		Clock:  time.Now,
		rooms:  make(map[string]map[string]*Session),
	}
}

// Config returns the normalized configuration.
func (h *Hub) Config() Config { return h.cfg }

// Join registers a new connecting session. It receives broadcasts from this
// point on so nothing is lost between catch-up and live delivery.
func (h *Hub) Join(contentID, userID string) *Session {
	now := h.Clock()
	s := &Session{
		ConnectionID: uuid.NewString(),
		ContentID:    contentID,
		UserID:       userID,
		JoinedAt:     now,
		state:        StateConnecting,
		lastSeenAt:   now,
		lastActiveAt: now,
		send:         make(chan []byte, h.cfg.QueueSize),
	}

	h.mu.Lock()
	room := h.rooms[contentID]
	if room == nil {
		room = make(map[string]*Session)
		h.rooms[contentID] = room
	}
	room[s.ConnectionID] = s
	h.mu.Unlock()

	h.log.Debug("presence join",
		zap.String("content_id", contentID),
		zap.String("user_id", userID),
		zap.String("connection_id", s.ConnectionID))
	return s
}

// Announce completes the handshake: the session becomes connected, other
// sessions receive its presence frame, and the current roster is returned.
func (h *Hub) Announce(s *Session, name, color, permission string) []Snapshot {
	now := h.Clock()
	h.mu.Lock()
	if !h.liveLocked(s) {
		h.mu.Unlock()
		return nil
	}
	s.name, s.color, s.permission = name, color, permission
	if s.state == StateConnecting {
		s.state = StateConnected
	}
	s.lastSeenAt = now
	snap := snapshotOf(s)
	h.mu.Unlock()

	h.Broadcast(s.ContentID, wire.MustEncode(snap.Wire()), s.ConnectionID)
	h.mirrorPut(snap)
	return h.Sessions(s.ContentID)
}

// Touch records a heartbeat.
func (h *Hub) Touch(s *Session) {
	now := h.Clock()
	h.mu.Lock()
	if !h.liveLocked(s) {
		h.mu.Unlock()
		return
	}
	s.lastSeenAt = now
	snap := snapshotOf(s)
	h.mu.Unlock()

	h.mirrorPut(snap)
}

// MarkActive records activity (an operation or cursor move). cursor may be
// nil to leave the known position unchanged.
func (h *Hub) MarkActive(s *Session, cursor *int) {
	now := h.Clock()
	h.mu.Lock()
	if !h.liveLocked(s) {
		h.mu.Unlock()
		return
	}
	s.lastSeenAt = now
	s.lastActiveAt = now
	if s.state != StateConnecting {
		s.state = StateActive
	}
	if cursor != nil {
		c := *cursor
		s.cursor = &c
	}
	snap := snapshotOf(s)
	h.mu.Unlock()

	h.mirrorPut(snap)
}

// Leave disconnects a session. It is safe to call more than once; only the
// first call announces presence_removed.
func (h *Hub) Leave(s *Session, reason string) bool {
	h.mu.Lock()
	removed := h.removeLocked(s)
	h.mu.Unlock()
	if !removed {
		return false
	}
	h.announceRemoval(s, reason)
	return true
}

// Sweep demotes quiet sessions to idle and evicts sessions silent for
// interval×missed. Every evicted session yields exactly one presence_removed.
func (h *Hub) Sweep(now time.Time) []Snapshot {
	evictAfter := h.cfg.EvictAfter()
	var evicted []*Session
	var snaps []Snapshot

	h.mu.Lock()
	for _, room := range h.rooms {
		for _, s := range room {
			if now.Sub(s.lastSeenAt) > evictAfter {
				evicted = append(evicted, s)
				continue
			}
			if s.state == StateActive && now.Sub(s.lastActiveAt) > h.cfg.HeartbeatInterval {
				s.state = StateIdle
			}
		}
	}
	for _, s := range evicted {
		snaps = append(snaps, snapshotOf(s))
		h.removeLocked(s)
	}
	h.mu.Unlock()

	for _, s := range evicted {
		h.log.Info("presence evicted",
			zap.String("content_id", s.ContentID),
			zap.String("user_id", s.UserID),
			zap.String("connection_id", s.ConnectionID),
			zap.Error(syncerr.E(syncerr.ConnectionLost, "no heartbeat for %s", evictAfter)))
		h.announceRemoval(s, ReasonTimeout)
	}
	return snaps
}

// Broadcast queues frame on every session of contentID except exclude.
// It returns how many sessions accepted the frame.
func (h *Hub) Broadcast(contentID string, frame []byte, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, s := range h.rooms[contentID] {
		if id == exclude {
			continue
		}
		select {
		case s.send <- frame:
			delivered++
		default:
			n := s.drops.Add(1)
			h.log.Warn("presence send queue full; frame dropped",
				zap.String("content_id", contentID),
				zap.String("connection_id", id),
				zap.Int64("drops", n))
		}
	}
	return delivered
}

// SendTo queues frame on a single session. It reports false when the session
// is gone or its queue is full.
func (h *Hub) SendTo(s *Session, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.liveLocked(s) {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.drops.Add(1)
		return false
	}
}

// Sessions returns the roster of a content item ordered by join time.
func (h *Hub) Sessions(contentID string) []Snapshot {
	h.mu.RLock()
	out := make([]Snapshot, 0, len(h.rooms[contentID]))
	for _, s := range h.rooms[contentID] {
		out = append(out, snapshotOf(s))
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Count returns the number of live sessions across all content items.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// Close disconnects every session. Remaining peers are all being closed so
// no presence_removed frames are sent.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Session
	for _, room := range h.rooms {
		for _, s := range room {
			all = append(all, s)
		}
	}
	for _, s := range all {
		h.removeLocked(s)
	}
	h.mu.Unlock()

	for _, s := range all {
		h.mirrorRemove(s)
	}
}

func (h *Hub) liveLocked(s *Session) bool {
	room := h.rooms[s.ContentID]
	return room != nil && room[s.ConnectionID] == s
}

// removeLocked drops s from its room and closes its queue. Caller holds mu
// for writing, so no Broadcast can be sending on the queue.
func (h *Hub) removeLocked(s *Session) bool {
	if !h.liveLocked(s) {
		return false
	}
	room := h.rooms[s.ContentID]
	delete(room, s.ConnectionID)
	if len(room) == 0 {
		delete(h.rooms, s.ContentID)
	}
	s.state = StateDisconnected
	close(s.send)
	return true
}

func (h *Hub) announceRemoval(s *Session, reason string) {
	frame := wire.MustEncode(wire.PresenceRemoved{
		UserID:       s.UserID,
		ConnectionID: s.ConnectionID,
		Reason:       reason,
	})
	h.Broadcast(s.ContentID, frame, s.ConnectionID)
	h.mirrorRemove(s)
	h.log.Debug("presence removed",
		zap.String("content_id", s.ContentID),
		zap.String("connection_id", s.ConnectionID),
		zap.String("reason", reason))
}

func (h *Hub) mirrorPut(snap Snapshot) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Short())
	defer cancel()
	err := h.mirror.Put(ctx, snap.ContentID, presencestore.Entry{
		ConnectionID: snap.ConnectionID,
		UserID:       snap.UserID,
		State:        string(snap.State),
		Node:         h.cfg.Node,
		LastSeenAt:   snap.LastSeenAt,
	})
	if err != nil {
		h.log.Warn("presence mirror put failed", zap.String("content_id", snap.ContentID), zap.Error(err))
	}
}

func (h *Hub) mirrorRemove(s *Session) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Short())
	defer cancel()
	if err := h.mirror.Remove(ctx, s.ContentID, s.ConnectionID); err != nil {
		h.log.Warn("presence mirror remove failed", zap.String("content_id", s.ContentID), zap.Error(err))
	}
}

func snapshotOf(s *Session) Snapshot {
	var cur *int
	if s.cursor != nil {
		c := *s.cursor
		cur = &c
	}
	return Snapshot{
		ConnectionID: s.ConnectionID,
		ContentID:    s.ContentID,
		UserID:       s.UserID,
		Name:         s.name,
		Color:        s.color,
		Permission:   s.permission,
		State:        s.state,
		Cursor:       cur,
		JoinedAt:     s.JoinedAt,
		LastSeenAt:   s.lastSeenAt,
	}
}
