package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/searchme/internal/watcher"
)

// Watch keeps root in sync with the file system until ctx is cancelled.
// Callers run an initial Run first; Watch only applies later changes.
// onSync, if set, receives the stats of every applied batch.
func (r *Runner) Watch(ctx context.Context, root string, onSync func(*RunStats)) error {
	absRoots, err := resolveRoots([]string{root})
	if err != nil {
		return err
	}
	root = absRoots[0]

	opts := watcher.DefaultOptions()
	opts.Debounce = r.cfg.Index.WatchDebounce
	opts.Policy = r.ScanOptions(root).Policy

	w, err := watcher.New(root, opts)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	coord := NewCoordinator(CoordinatorConfig{Runner: r, Root: root, OnSync: onSync})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	slog.Info("watch_started", slog.String("root", root), slog.String("mode", w.Mode()))

	for batch := range w.Events() {
		if err := coord.HandleEvents(ctx, batch); err != nil && ctx.Err() == nil {
			slog.Warn("watch_sync_failed", slog.String("error", err.Error()))
		}
	}
	slog.Info("watch_stopped", slog.String("root", root))
	return <-done
}
