package ratelimit

import (
	"time"

	"go.uber.org/zap"
)

// Config holds the sweep schedule. The per-key limit belongs to the
// [Table] itself.
type Config struct {
	SweepInterval time.Duration
	SweepMaxAge   time.Duration
}

// Limiter is the admission controller: it decides allow/deny per
// inbound request against the bucket table and owns the periodic sweep
// that bounds table memory.
type Limiter struct {
	table  *Table
	logger *zap.Logger
	config Config
	stop   chan struct{}
	done   chan struct{}
}

// NewLimiter wraps the given table. Zero sweep settings default to a
// 30-second interval with a 20-second max age.
func NewLimiter(table *Table, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.SweepMaxAge <= 0 {
		cfg.SweepMaxAge = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		table:  table,
		logger: logger,
		config: cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Allow reports whether one request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.table.Check(key, time.Now().UnixMilli())
}

// Start launches the sweep loop. It runs until Stop is called.
func (l *Limiter) Start() {
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed := l.table.Sweep(time.Now().UnixMilli(), int64(l.config.SweepMaxAge/time.Second))
				if removed > 0 {
					l.logger.Debug("rate bucket sweep",
						zap.Int("removed", removed),
						zap.Int("remaining", l.table.Len()),
					)
				}
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (l *Limiter) Stop() {
	close(l.stop)
	<-l.done
}
