// internal/app/system/workers/presencesweep.go
package workers

import (
	"sync"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/presence"
	"go.uber.org/zap"
)

// Sweeper evicts silent presence sessions.
type Sweeper interface {
	Sweep(now time.Time) []presence.Snapshot
}

// Pruner drops cached per-content state that has gone idle.
type Pruner interface {
	Prune(now time.Time) int
}

// PresenceSweeper is a background worker that evicts sessions which missed
// their heartbeats and, optionally, prunes idle coordinator entries.
type PresenceSweeper struct {
	hub      Sweeper
	pruner   Pruner
	log      *zap.Logger
	interval time.Duration
	clock    func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPresenceSweeper creates a sweeper.
//
// Parameters:
//   - hub: the presence hub to sweep
//   - pruner: optional; nil skips pruning
//   - logger: zap logger for logging
//   - interval: how often to sweep (e.g., 5 seconds)
func NewPresenceSweeper(hub Sweeper, pruner Pruner, logger *zap.Logger, interval time.Duration) *PresenceSweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PresenceSweeper{
		hub:      hub,
		pruner:   pruner,
		log:      logger,
		interval: interval,
		clock:    time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *PresenceSweeper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("presence sweeper started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish. It is safe to
// call more than once.
func (w *PresenceSweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("presence sweeper stopped")
}

func (w *PresenceSweeper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.SweepOnce()
		}
	}
}

// SweepOnce runs a single pass. Exposed for tests.
func (w *PresenceSweeper) SweepOnce() {
	now := w.clock()
	if evicted := w.hub.Sweep(now); len(evicted) > 0 {
		w.log.Info("evicted silent sessions", zap.Int("count", len(evicted)))
	}
	if w.pruner != nil {
		if n := w.pruner.Prune(now); n > 0 {
			w.log.Debug("pruned idle content state", zap.Int("count", n))
		}
	}
}
