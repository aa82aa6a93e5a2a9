package workers_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/dalemusser/coedit/internal/app/system/workers"
	"go.uber.org/zap"
)

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Sweep(time.Time) []presence.Snapshot {
	c.n.Add(1)
	return nil
}

type countingPruner struct{ n atomic.Int32 }

func (c *countingPruner) Prune(time.Time) int {
	c.n.Add(1)
	return 0
}

func TestPresenceSweeper_Runs(t *testing.T) {
	s := &countingSweeper{}
	p := &countingPruner{}
	w := workers.NewPresenceSweeper(s, p, zap.NewNop(), 10*time.Millisecond)
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for s.n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	w.Stop()

	if s.n.Load() < 2 {
		t.Errorf("expected at least 2 sweeps, got %d", s.n.Load())
	}
	if p.n.Load() < 2 {
		t.Errorf("expected pruner to run with each sweep, got %d", p.n.Load())
	}
}

func TestPresenceSweeper_EvictsFromHub(t *testing.T) {
	hub := presence.NewHub(presence.Config{HeartbeatInterval: time.Second, MissedBeats: 2}, nil, zap.NewNop())
	start := time.Now()
	hub.Clock = func() time.Time { return start.Add(-time.Minute) }
	hub.Join("c1", "alice")

	w := workers.NewPresenceSweeper(hub, nil, zap.NewNop(), time.Hour)
	w.SweepOnce()

	if hub.Count() != 0 {
		t.Errorf("expected stale session evicted, %d remain", hub.Count())
	}
}
