// Package timeouts provides centralized timeout values for request handling,
// storage calls and the per-content write lock.
//
// Values can be changed at startup with Configure. If not configured the
// defaults below are used.
//
// Guidelines for choosing a timeout:
//   - Ping: health checks and connectivity verification
//   - Short: single-document reads, permission lookups, presence mirror writes
//   - Medium: catch-up reads, list queries, simple writes
//   - Long: content creation and checkpoints (several collections)
//   - LockWait: how long a submission may wait for its content's write lock
package timeouts

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default timeout values (used if Configure is not called).
const (
	DefaultPing     = 2 * time.Second
	DefaultShort    = 5 * time.Second
	DefaultMedium   = 10 * time.Second
	DefaultLong     = 30 * time.Second
	DefaultLockWait = 5 * time.Second
)

var mu sync.RWMutex

var (
	ping     = DefaultPing
	short    = DefaultShort
	medium   = DefaultMedium
	long     = DefaultLong
	lockWait = DefaultLockWait
)

// Ping returns the timeout for health checks.
func Ping() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return ping
}

// Short returns the timeout for single-document reads and lookups.
func Short() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return short
}

// Medium returns the timeout for catch-up reads and list queries.
func Medium() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return medium
}

// Long returns the timeout for writes touching several collections.
func Long() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return long
}

// LockWait returns the bound on acquiring a content item's write lock.
// Submissions that cannot acquire it in time fail with a retryable timeout.
func LockWait() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return lockWait
}

// Config holds timeout configuration values.
// Zero values are ignored (defaults are kept).
type Config struct {
	Ping     time.Duration
	Short    time.Duration
	Medium   time.Duration
	Long     time.Duration
	LockWait time.Duration
}

// Configure sets custom timeout values. Zero values are ignored.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		ping = cfg.Ping
	}
	if cfg.Short > 0 {
		short = cfg.Short
	}
	if cfg.Medium > 0 {
		medium = cfg.Medium
	}
	if cfg.Long > 0 {
		long = cfg.Long
	}
	if cfg.LockWait > 0 {
		lockWait = cfg.LockWait
	}
}

// Reset restores all timeouts to their default values.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	ping = DefaultPing
	short = DefaultShort
	medium = DefaultMedium
	long = DefaultLong
	lockWait = DefaultLockWait
}

// ConfigureFromEnv reads COEDIT_TIMEOUT_{PING,SHORT,MEDIUM,LONG,LOCK_WAIT}.
// Returns the number of timeouts successfully configured.
func ConfigureFromEnv() int {
	mu.Lock()
	defer mu.Unlock()
	configured := 0
	for name, dst := range map[string]*time.Duration{
		"COEDIT_TIMEOUT_PING":      &ping,
		"COEDIT_TIMEOUT_SHORT":     &short,
		"COEDIT_TIMEOUT_MEDIUM":    &medium,
		"COEDIT_TIMEOUT_LONG":      &long,
		"COEDIT_TIMEOUT_LOCK_WAIT": &lockWait,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
			configured++
		}
	}
	return configured
}

// Current returns the current timeout configuration.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return Config{
		Ping:     ping,
		Short:    short,
		Medium:   medium,
		Long:     long,
		LockWait: lockWait,
	}
}

// WithTimeout creates a context with timeout and returns a cancel function that
// logs a warning if the deadline was hit.
//
//	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "checkpoint")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
