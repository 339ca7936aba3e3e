// Package watcher reports file changes under an indexed root.
//
// A Watcher uses fsnotify where the platform supports it and falls back to
// periodic snapshots otherwise (network mounts, containers, exhausted inotify
// limits). Changes are filtered through the same exclusion rules the
// indexer walks with and delivered in batches once the tree has been quiet
// for the debounce window, so an editor's save-rename-chmod dance or a bulk
// copy arrives as one batch.
//
//	w, err := watcher.New(root, watcher.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	go func() { _ = w.Run(ctx) }()
//	for batch := range w.Events() {
//		...
//	}
package watcher
