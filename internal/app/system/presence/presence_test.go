package presence_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	presencestore "github.com/dalemusser/coedit/internal/app/store/presence"
	"github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMirror struct {
	mu      sync.Mutex
	puts    int
	removed []string
}

func (m *recordingMirror) Put(_ context.Context, _ string, _ presencestore.Entry) error {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) Remove(_ context.Context, _ string, connID string) error {
	m.mu.Lock()
	m.removed = append(m.removed, connID)
	m.mu.Unlock()
	return nil
}

func newHub(t *testing.T, mirror presence.Mirror) (*presence.Hub, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := presence.NewHub(presence.Config{HeartbeatInterval: 30 * time.Second, MissedBeats: 2, QueueSize: 4}, mirror, zap.NewNop())
	h.Clock = clk.Now
	return h, clk
}

// drain returns the frame types currently queued for s.
func drain(s *presence.Session) []string {
	var kinds []string
	for {
		select {
		case f, ok := <-s.Send():
			if !ok {
				return kinds
			}
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(f, &head)
			kinds = append(kinds, head.Type)
		default:
			return kinds
		}
	}
}

func count(kinds []string, k string) int {
	n := 0
	for _, x := range kinds {
		if x == k {
			n++
		}
	}
	return n
}

func TestHub_JoinAnnounce(t *testing.T) {
	h, _ := newHub(t, nil)

	a := h.Join("c1", "alice")
	roster := h.Announce(a, "Alice", "#f00", "editor")
	require.Len(t, roster, 1)
	assert.Equal(t, presence.StateConnected, roster[0].State)

	b := h.Join("c1", "bob")
	roster = h.Announce(b, "Bob", "#00f", "viewer")
	assert.Len(t, roster, 2)

	assert.Equal(t, []string{"presence"}, drain(a), "alice hears bob")
	assert.Empty(t, drain(b), "bob does not hear himself")

	// Different content is isolated.
	c := h.Join("c2", "carol")
	h.Announce(c, "Carol", "", "owner")
	assert.Empty(t, drain(a))
	assert.Equal(t, 3, h.Count())
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h, _ := newHub(t, nil)
	a := h.Join("c1", "alice")
	b := h.Join("c1", "bob")

	n := h.Broadcast("c1", []byte(`{"type":"operation"}`), a.ConnectionID)
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(a))
	assert.Equal(t, []string{"operation"}, drain(b))
}

func TestHub_FullQueueDrops(t *testing.T) {
	h, _ := newHub(t, nil)
	a := h.Join("c1", "alice")
	for i := 0; i < 6; i++ {
		h.Broadcast("c1", []byte(`{"type":"operation"}`), "")
	}
	assert.Equal(t, int64(2), a.Drops())
	assert.Len(t, drain(a), 4)
}

func TestHub_StateTransitions(t *testing.T) {
	h, clk := newHub(t, nil)
	a := h.Join("c1", "alice")
	assert.Equal(t, presence.StateConnecting, h.Sessions("c1")[0].State)

	h.Announce(a, "Alice", "", "editor")
	h.MarkActive(a, nil)
	assert.Equal(t, presence.StateActive, h.Sessions("c1")[0].State)

	// Heartbeats keep it alive but do not count as activity.
	clk.Advance(20 * time.Second)
	h.Touch(a)
	clk.Advance(20 * time.Second)
	h.Touch(a)
	h.Sweep(clk.Now())
	assert.Equal(t, presence.StateIdle, h.Sessions("c1")[0].State)

	pos := 7
	h.MarkActive(a, &pos)
	snap := h.Sessions("c1")[0]
	assert.Equal(t, presence.StateActive, snap.State)
	require.NotNil(t, snap.Cursor)
	assert.Equal(t, 7, *snap.Cursor)
}

func TestHub_EvictionEmitsExactlyOneRemoval(t *testing.T) {
	mirror := &recordingMirror{}
	h, clk := newHub(t, mirror)
	a := h.Join("c1", "alice")
	b := h.Join("c1", "bob")
	h.Announce(a, "Alice", "", "editor")
	h.Announce(b, "Bob", "", "editor")
	drain(a)

	// Bob stays alive, Alice goes quiet.
	clk.Advance(45 * time.Second)
	h.Touch(b)
	assert.Empty(t, h.Sweep(clk.Now()), "one missed beat is tolerated")

	clk.Advance(20 * time.Second)
	h.Touch(b)
	evicted := h.Sweep(clk.Now())
	require.Len(t, evicted, 1)
	assert.Equal(t, a.ConnectionID, evicted[0].ConnectionID)

	// Later sweeps and a late Leave do not announce again.
	assert.Empty(t, h.Sweep(clk.Now()))
	assert.False(t, h.Leave(a, presence.ReasonClosed))

	kinds := drain(b)
	assert.Equal(t, 1, count(kinds, "presence_removed"))

	roster := h.Sessions("c1")
	require.Len(t, roster, 1)
	assert.Equal(t, "bob", roster[0].UserID)

	_, open := <-a.Send()
	assert.False(t, open, "evicted session queue is closed")
	assert.Contains(t, mirror.removed, a.ConnectionID)
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h, _ := newHub(t, nil)
	a := h.Join("c1", "alice")
	b := h.Join("c1", "bob")

	assert.True(t, h.Leave(a, presence.ReasonLeft))
	assert.False(t, h.Leave(a, presence.ReasonLeft))
	assert.Equal(t, 1, count(drain(b), "presence_removed"))

	// Calls on a departed session are ignored.
	h.Touch(a)
	h.MarkActive(a, nil)
	assert.False(t, h.SendTo(a, []byte(`{}`)))
	assert.Len(t, h.Sessions("c1"), 1)
}

func TestHub_Close(t *testing.T) {
	h, _ := newHub(t, nil)
	a := h.Join("c1", "alice")
	h.Join("c2", "bob")
	h.Close()
	assert.Equal(t, 0, h.Count())
	_, open := <-a.Send()
	assert.False(t, open)
}

func TestHub_ConcurrentBroadcastAndLeave(t *testing.T) {
	h, _ := newHub(t, nil)
	var sessions []*presence.Session
	for i := 0; i < 20; i++ {
		sessions = append(sessions, h.Join("c1", "u"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h.Broadcast("c1", []byte(`{"type":"cursor_update"}`), "")
			}
		}()
	}
	for _, s := range sessions {
		wg.Add(1)
		go func(s *presence.Session) {
			defer wg.Done()
			h.Leave(s, presence.ReasonClosed)
		}(s)
	}
	wg.Wait()
	assert.Equal(t, 0, h.Count())
}
