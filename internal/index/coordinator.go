package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/Aman-CERP/searchme/internal/watcher"
)

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// Runner applies the changes. Its stores must be open for writing.
	Runner *Runner

	// Root is the watched directory; event paths are relative to it.
	Root string

	// OnSync, if set, receives the stats of every applied batch.
	OnSync func(*RunStats)
}

// Coordinator turns debounced watcher batches into index updates.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex
}

// NewCoordinator creates a new index coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	return &Coordinator{config: config}
}

// HandleEvents processes a batch of file events.
//
// Plain file events are applied path by path. Directory events, ignore file
// edits and config edits change which files are visible in bulk, so they
// trigger a full reconcile of the root instead; unchanged files are cheap to
// skip there.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths, full := c.plan(events)

	var (
		stats *RunStats
		err   error
	)
	switch {
	case full:
		slog.Info("watch_reconcile", slog.String("root", c.config.Root), slog.Int("events", len(events)))
		stats, err = c.config.Runner.Run(ctx, []string{c.config.Root})
	case len(paths) > 0:
		stats, err = c.config.Runner.Sync(ctx, c.config.Root, paths)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("watch_sync",
		slog.Int("paths", len(paths)),
		slog.Bool("full", full),
		slog.Int("indexed", stats.Indexed),
		slog.Int("updated", stats.Updated),
		slog.Int("deleted", stats.Deleted),
		slog.Int("failed", stats.Failed))
	if c.config.OnSync != nil {
		c.config.OnSync(stats)
	}
	return nil
}

// plan dedupes the file paths touched by events and reports whether a full
// reconcile is needed.
func (c *Coordinator) plan(events []watcher.Event) ([]string, bool) {
	seen := make(map[string]struct{})
	var paths []string
	add := func(p string) {
		if p == "" {
			return
		}
		p = filepath.ToSlash(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	full := false
	for _, ev := range events {
		switch ev.Change {
		case watcher.RulesChanged, watcher.ConfigChanged:
			full = true
		case watcher.Created, watcher.Modified, watcher.Removed:
			if ev.Dir {
				full = true
				continue
			}
			add(ev.Path)
		}
	}
	return paths, full
}
