// Package archiver provides background pruning of acknowledged queue items.
// Delivered items are kept for a retention window for diagnostics, then
// removed; the change log itself is never pruned.
package archiver

import (
	"context"
	gosync "sync"
	"time"

	"github.com/pantryware/pantrysync/internal/logging"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
)

// Config holds archiver configuration.
type Config struct {
	// Interval is how often the prune pass runs (default: 1 hour).
	Interval time.Duration
	// Retention is how long delivered items are kept (default: 7 days).
	Retention time.Duration
}

// DefaultConfig returns default archiver configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Hour,
		Retention: 7 * 24 * time.Hour,
	}
}

// Archiver prunes delivered queue items on a fixed interval.
type Archiver struct {
	queue     syncpkg.SyncQueue
	interval  time.Duration
	retention time.Duration

	stopCh    chan struct{}
	wg        gosync.WaitGroup
	mu        gosync.Mutex
	isRunning bool
}

// New creates a new Archiver.
func New(queue syncpkg.SyncQueue, cfg Config) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Archiver{
		queue:     queue,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the background prune loop.
func (a *Archiver) Start(ctx context.Context) {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop(ctx)

	logging.Info("Queue archiver started",
		map[string]interface{}{
			"interval":  a.interval.String(),
			"retention": a.retention.String(),
		})
}

// Stop stops the archiver gracefully.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = false
	a.mu.Unlock()

	close(a.stopCh)
	a.wg.Wait()

	logging.Info("Queue archiver stopped", nil)
}

// loop runs prune passes until stopped.
func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.PruneOnce(ctx)
		}
	}
}

// PruneOnce removes delivered items older than the retention window.
// Exposed so operators (and tests) can trigger a pass directly.
func (a *Archiver) PruneOnce(ctx context.Context) {
	cutoff := time.Now().Add(-a.retention).Unix()

	deleted, err := a.queue.DeleteDelivered(ctx, cutoff)
	if err != nil {
		logging.Error("Queue prune pass failed", err, nil)
		return
	}
	if deleted > 0 {
		logging.Info("Pruned delivered queue items",
			map[string]interface{}{"deleted": deleted})
	}
}
