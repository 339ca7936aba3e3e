package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/searchme/internal/exclude"
)

// Watcher reports batches of changes below one root.
type Watcher struct {
	root   string
	opts   Options
	fsw    *fsnotify.Watcher // nil in polling mode
	batch  *batcher
	events chan []Event
	done   chan struct{}
	ran    atomic.Bool

	mu      sync.RWMutex
	matcher *exclude.Matcher
	dirs    map[string]bool // watched directories, relative
}

// New prepares a watcher for root. Watches are registered here, so changes
// made after New returns are not missed once Run starts.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", abs)
	}

	w := &Watcher{
		root: abs,
		opts: opts.withDefaults(),
		done: make(chan struct{}),
		dirs: make(map[string]bool),
	}
	w.events = make(chan []Event, w.opts.Buffer)
	w.batch = newBatcher(w.opts.Debounce, w.opts.MaxDelay, w.send)
	w.reloadRules()

	if !w.opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsw = fsw
			err = w.addTree(abs, false)
		}
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("root", abs), slog.String("error", err.Error()))
			if w.fsw != nil {
				_ = w.fsw.Close()
				w.fsw = nil
			}
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Events yields change batches sorted by path. It is closed when Run returns.
func (w *Watcher) Events() <-chan []Event { return w.events }

// Run watches until ctx is cancelled. It may be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.ran.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}
	defer func() {
		close(w.done)
		w.batch.close()
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		close(w.events)
	}()

	if w.fsw == nil {
		return w.poll(ctx)
	}
	return w.notify(ctx)
}

func (w *Watcher) send(batch []Event) {
	select {
	case w.events <- batch:
	case <-w.done:
	}
}

func (w *Watcher) notify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("root", w.root), slog.String("error", err.Error()))
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; only a full pass can tell what changed.
				w.batch.add(Event{Path: ".", Change: RulesChanged, Dir: true, At: time.Now()})
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)
	now := time.Now()

	if c, ok := classify(rel); ok {
		if ev.Op == fsnotify.Chmod {
			return
		}
		if c == RulesChanged {
			w.reloadRules()
		}
		w.batch.add(Event{Path: rel, Change: c, At: now})
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return
		}
		dir := info.IsDir()
		if w.skip(rel, dir) {
			return
		}
		if dir {
			// Files may land in a new directory before its watch exists.
			if err := w.addTree(ev.Name, true); err != nil {
				slog.Warn("watch_add_failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}
		w.batch.add(Event{Path: rel, Change: Created, Dir: dir, At: now})

	case ev.Has(fsnotify.Write):
		if !w.skip(rel, false) {
			w.batch.add(Event{Path: rel, Change: Modified, At: now})
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename reports the old name; the new one arrives as Create.
		w.mu.Lock()
		dir := w.dirs[rel]
		delete(w.dirs, rel)
		w.mu.Unlock()
		if !w.skip(rel, dir) {
			w.batch.add(Event{Path: rel, Change: Removed, Dir: dir, At: now})
		}
	}
}

// addTree watches dir and every visible directory below it. With announce
// set, files already inside are reported as created.
func (w *Watcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() {
			if !announce {
				return nil
			}
			if c, special := classify(rel); special {
				if c == RulesChanged {
					w.reloadRules()
				}
				w.batch.add(Event{Path: rel, Change: c, At: time.Now()})
			} else if !w.skip(rel, false) {
				w.batch.add(Event{Path: rel, Change: Created, At: time.Now()})
			}
			return nil
		}
		if rel != "." && w.skip(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.mu.Lock()
		w.dirs[rel] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) poll(ctx context.Context) error {
	prev := takeSnapshot(w.root, w.skip)
	t := time.NewTicker(w.opts.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			next := takeSnapshot(w.root, w.skip)
			for _, ev := range diff(prev, next, now) {
				if c, ok := classify(ev.Path); ok {
					if c == RulesChanged {
						w.reloadRules()
					}
					ev.Change, ev.Dir = c, false
				}
				w.batch.add(ev)
			}
			prev = next
		}
	}
}

func (w *Watcher) skip(rel string, dir bool) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.matcher.Excluded(rel, dir)
}

// reloadRules rebuilds the matcher with every ignore file below the root.
func (w *Watcher) reloadRules() {
	m := exclude.New(w.root, w.opts.Policy)
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && m.Excluded(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		if err := m.LoadIgnoreFiles(rel); err != nil {
			slog.Warn("ignore_file_unreadable", slog.String("dir", path), slog.String("error", err.Error()))
		}
		return nil
	})

	w.mu.Lock()
	w.matcher = m
	w.mu.Unlock()
}
