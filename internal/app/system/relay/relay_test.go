package relay_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUnwrap(t *testing.T) {
	data, err := json.Marshal(relay.Envelope{Node: "a", ContentID: "c1", Frame: json.RawMessage(`{"type":"save"}`)})
	require.NoError(t, err)

	env, ok := relay.Unwrap(data, "b")
	require.True(t, ok)
	assert.Equal(t, "c1", env.ContentID)
	assert.JSONEq(t, `{"type":"save"}`, string(env.Frame))

	_, ok = relay.Unwrap(data, "a")
	assert.False(t, ok, "own frames are skipped")

	_, ok = relay.Unwrap([]byte("{"), "b")
	assert.False(t, ok)

	_, ok = relay.Unwrap([]byte(`{"node":"a","frame":{}}`), "b")
	assert.False(t, ok, "missing content id")
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := relay.Connect(relay.Config{}, zap.NewNop())
	assert.Error(t, err)
}

func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("COEDIT_TEST_NATS_URL")
	if url == "" {
		t.Skip("COEDIT_TEST_NATS_URL not set")
	}
	return url
}

func TestRelay_DeliversToOtherNodesOnly(t *testing.T) {
	url := natsURL(t)
	prefix := "coedit.test." + time.Now().Format("150405.000000000")

	a, err := relay.Connect(relay.Config{URL: url, SubjectPrefix: prefix, Node: "a"}, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := relay.Connect(relay.Config{URL: url, SubjectPrefix: prefix, Node: "b"}, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	gotA := make(chan relay.Envelope, 4)
	gotB := make(chan relay.Envelope, 4)
	require.NoError(t, a.Subscribe(func(e relay.Envelope) { gotA <- e }))
	require.NoError(t, b.Subscribe(func(e relay.Envelope) { gotB <- e }))

	ctx := context.Background()
	require.NoError(t, a.Publish(ctx, "c1", []byte(`{"type":"title_update","title":"x"}`)))
	require.NoError(t, a.Ping(ctx))

	select {
	case e := <-gotB:
		assert.Equal(t, "a", e.Node)
		assert.Equal(t, "c1", e.ContentID)
	case <-time.After(2 * time.Second):
		t.Fatal("node b did not receive the frame")
	}
	select {
	case e := <-gotA:
		t.Fatalf("node a received its own frame: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, "connected", b.Status())
}
