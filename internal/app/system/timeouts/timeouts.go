// Package timeouts holds the deadlines handlers and jobs put on their
// database work. Values are set once at startup from configuration.
package timeouts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults used until Configure is called.
const (
	DefaultPing  = 2 * time.Second
	DefaultShort = 5 * time.Second
	DefaultLong  = 30 * time.Second
	DefaultBatch = 5 * time.Minute
)

// Config holds the timeout tiers. Zero fields keep their current value.
type Config struct {
	Ping  time.Duration // health probes
	Short time.Duration // single-record reads and writes
	Long  time.Duration // subtree purges and trash emptying
	Batch time.Duration // background sweeps and reconciliation
}

var (
	mu  sync.RWMutex
	cur = defaults()
)

func defaults() Config {
	return Config{Ping: DefaultPing, Short: DefaultShort, Long: DefaultLong, Batch: DefaultBatch}
}

// Configure overrides the non-zero tiers in cfg.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		cur.Ping = cfg.Ping
	}
	if cfg.Short > 0 {
		cur.Short = cfg.Short
	}
	if cfg.Long > 0 {
		cur.Long = cfg.Long
	}
	if cfg.Batch > 0 {
		cur.Batch = cfg.Batch
	}
}

// Reset restores the defaults.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cur = defaults()
}

// Current returns the active configuration.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

func Ping() time.Duration  { return Current().Ping }
func Short() time.Duration { return Current().Short }
func Long() time.Duration  { return Current().Long }
func Batch() time.Duration { return Current().Batch }

// WithTimeout derives a context with timeout and logs when operation runs
// out of time.
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
