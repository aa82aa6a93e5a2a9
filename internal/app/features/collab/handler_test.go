package collab_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/features/collab"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/ratelimit"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/coedit/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type frame map[string]any

func (f frame) kind() string {
	s, _ := f["type"].(string)
	return s
}

type env struct {
	eng    *testutil.Engine
	srv    *httptest.Server
	router http.Handler
	alice  testutil.TestUser
	bob    testutil.TestUser
	item   models.ContentItem
}

func setup(t *testing.T, limit *ratelimit.Limiter) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	eng := testutil.NewEngine(t, db)

	alice := testutil.NewUser("Alice")
	bob := testutil.NewUser("Bob")
	ctx, cancel := testutil.TestContext()
	defer cancel()
	sp := testutil.NewFixtures(t, db).CreateSpace(ctx, "Team", alice.ID, bob.ID)
	item := eng.CreateContent(t, sp.ID, alice.ID, "Notes")
	eng.Grant(t, item.ID, &bob.ID, models.RoleViewer)

	h := collab.NewHandler(eng.Coord, eng.Hub, eng.Gate, limit, collab.Options{AllowedOrigins: []string{"*"}, MaxMessageBytes: 4096}, zap.NewNop())
	r := chi.NewRouter()
	r.Use(auth.LoadBearerUser(auth.NewVerifier(testutil.TestSecret, ""), zap.NewNop()))
	r.Mount("/collab", collab.Routes(h))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{eng: eng, srv: srv, router: r, alice: alice, bob: bob, item: item}
}

func (e *env) dial(t *testing.T, u testutil.TestUser, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/collab/" + e.item.ID.Hex() + "/ws?token=" + testutil.Token(t, u)
	if query != "" {
		url += "&" + query
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// next reads frames until one of kind arrives, skipping others.
func next(t *testing.T, ws *websocket.Conn, kind string) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var f frame
		err := ws.ReadJSON(&f)
		require.NoError(t, err, "waiting for %s", kind)
		if f.kind() == kind {
			return f
		}
	}
}

func TestServe_RejectsBeforeUpgrade(t *testing.T) {
	e := setup(t, nil)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collab/"+e.item.ID.Hex()+"/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	mallory := testutil.NewUser("Mallory")
	req := httptest.NewRequest(http.MethodGet, "/collab/"+e.item.ID.Hex()+"/ws", nil)
	req.Header.Set("Authorization", "Bearer "+testutil.Token(t, mallory))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/collab/not-an-id/ws", nil)
	req.Header.Set("Authorization", "Bearer "+testutil.Token(t, e.alice))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/collab/"+e.item.ID.Hex()+"/ws?lastSeq=-4", nil)
	req.Header.Set("Authorization", "Bearer "+testutil.Token(t, e.alice))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSession_EditBroadcastAndPresence(t *testing.T) {
	e := setup(t, nil)

	a := e.dial(t, e.alice, "lastSeq=0")
	cu := next(t, a, "catchup")
	assert.Empty(t, cu["operations"])

	send(t, a, map[string]any{"type": "presence", "name": "Alice", "color": "#f00"})
	list := next(t, a, "presence_list")
	assert.Len(t, list["sessions"], 1)

	b := e.dial(t, e.bob, "")
	send(t, b, map[string]any{"type": "presence"})
	list = next(t, b, "presence_list")
	assert.Len(t, list["sessions"], 2)

	joined := next(t, a, "presence")
	assert.Equal(t, e.bob.ID, joined["userId"])
	assert.Equal(t, "viewer", joined["permission"])

	send(t, a, map[string]any{"type": "operation", "ref": "r1", "op": map[string]any{"type": "insert", "position": 0, "text": "Hi"}})
	ack := next(t, a, "ack")
	assert.Equal(t, "r1", ack["ref"])
	op := ack["op"].(map[string]any)
	assert.EqualValues(t, 1, op["appliedSequence"])
	assert.EqualValues(t, 2, ack["version"])

	got := next(t, b, "operation")
	assert.Equal(t, "Hi", got["op"].(map[string]any)["text"])

	// Viewer edits are refused; viewer cursors are relayed.
	send(t, b, map[string]any{"type": "operation", "ref": "r2", "op": map[string]any{"type": "insert", "position": 2, "text": "!"}})
	rej := next(t, b, "error")
	assert.Equal(t, "r2", rej["ref"])
	assert.Equal(t, "forbidden", rej["code"])

	send(t, b, map[string]any{"type": "cursor_update", "ref": "r3", "position": 1})
	ack = next(t, b, "ack")
	assert.Equal(t, true, ack["ephemeral"])
	cur := next(t, a, "cursor_update")
	assert.EqualValues(t, 1, cur["position"])
	assert.Equal(t, e.bob.ID, cur["userId"])

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	gone := next(t, a, "presence_removed")
	assert.Equal(t, e.bob.ID, gone["userId"])
	assert.Equal(t, "left", gone["reason"])
}

func TestSession_ReconnectCatchUp(t *testing.T) {
	e := setup(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	for i, s := range []string{"a", "b", "c"} {
		_, err := e.eng.Coord.Submit(ctx, e.item.ID, e.alice.ID, models.Operation{Type: models.OpInsert, Position: models.IntPtr(i), Text: s}, "")
		require.NoError(t, err)
	}

	ws := e.dial(t, e.alice, "lastSeq=1")
	cu := next(t, ws, "catchup")
	ops := cu["operations"].([]any)
	require.Len(t, ops, 2)
	assert.EqualValues(t, 2, ops[0].(map[string]any)["appliedSequence"])
	assert.EqualValues(t, 3, ops[1].(map[string]any)["appliedSequence"])
	assert.EqualValues(t, 3, cu["lastSequence"])

	send(t, ws, map[string]any{"type": "catchup", "ref": "again", "lastSeq": 1})
	again := next(t, ws, "catchup")
	assert.Equal(t, "again", again["ref"])
	assert.Equal(t, cu["operations"], again["operations"])
}

func TestSession_RejectsBadFrames(t *testing.T) {
	e := setup(t, nil)
	ws := e.dial(t, e.alice, "")

	send(t, ws, map[string]any{"type": "content_update", "ref": "c1", "content": "whole doc"})
	f := next(t, ws, "error")
	assert.Equal(t, "c1", f["ref"])
	assert.Equal(t, "invalid_operation", f["code"])

	send(t, ws, map[string]any{"type": "ack"})
	f = next(t, ws, "error")
	assert.Equal(t, "invalid_request", f["code"])

	send(t, ws, map[string]any{"type": "operation", "ref": "o1", "op": map[string]any{"type": "delete", "position": 0, "length": 3}})
	f = next(t, ws, "error")
	assert.Equal(t, "invalid_operation", f["code"])

	send(t, ws, map[string]any{"type": "content_update", "ref": "c2", "op": map[string]any{"type": "insert", "position": 0, "text": "ok"}})
	ack := next(t, ws, "ack")
	assert.Equal(t, "c2", ack["ref"])
}

func TestSession_TitleAndSave(t *testing.T) {
	e := setup(t, nil)
	a := e.dial(t, e.alice, "")
	b := e.dial(t, e.bob, "")
	send(t, b, map[string]any{"type": "presence"})
	next(t, b, "presence_list")

	send(t, a, map[string]any{"type": "title_update", "ref": "t1", "title": "Plan"})
	assert.Equal(t, "t1", next(t, a, "ack")["ref"])
	assert.Equal(t, "Plan", next(t, b, "title_update")["title"])

	send(t, a, map[string]any{"type": "operation", "op": map[string]any{"type": "insert", "position": 0, "text": "x"}})
	next(t, a, "ack")
	send(t, a, map[string]any{"type": "save", "ref": "s1"})
	saved := next(t, a, "ack")
	assert.Equal(t, "s1", saved["ref"])
	assert.EqualValues(t, 2, saved["version"])
}

func TestSession_RateLimited(t *testing.T) {
	limit := ratelimit.New(2, time.Minute)
	defer limit.Close()
	e := setup(t, limit)
	ws := e.dial(t, e.alice, "")

	for i := 0; i < 2; i++ {
		send(t, ws, map[string]any{"type": "cursor_update", "position": 0})
		next(t, ws, "ack")
	}
	send(t, ws, map[string]any{"type": "cursor_update", "ref": "x", "position": 0})
	f := next(t, ws, "error")
	assert.Equal(t, "timeout", f["code"])
	assert.Equal(t, true, f["retryable"])
}

func TestSession_OversizedFrameCloses(t *testing.T) {
	e := setup(t, nil)
	ws := e.dial(t, e.alice, "")

	big := strings.Repeat("x", 8192)
	send(t, ws, map[string]any{"type": "title_update", "title": big})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}
