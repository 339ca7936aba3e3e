package watcher

import (
	"io/fs"
	"path/filepath"
	"time"
)

type stamp struct {
	size  int64
	mtime time.Time
	dir   bool
}

// snapshot maps slash-separated relative paths to their last seen stamp.
type snapshot map[string]stamp

// takeSnapshot walks root, skipping what skip rejects. Unreadable entries
// are left out, so they read as removed until they become readable again.
func takeSnapshot(root string, skip func(rel string, dir bool) bool) snapshot {
	snap := make(snapshot)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if _, special := classify(rel); !special && skip != nil && skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[rel] = stamp{size: info.Size(), mtime: info.ModTime(), dir: d.IsDir()}
		return nil
	})
	return snap
}

// diff lists what changed between two snapshots. Directory stamps change
// whenever an entry is added or removed, so only their appearance and
// disappearance are reported.
func diff(prev, next snapshot, at time.Time) []Event {
	var events []Event
	for rel, s := range next {
		old, ok := prev[rel]
		switch {
		case !ok:
			events = append(events, Event{Path: rel, Change: Created, Dir: s.dir, At: at})
		case old.dir != s.dir:
			events = append(events,
				Event{Path: rel, Change: Removed, Dir: old.dir, At: at},
				Event{Path: rel, Change: Created, Dir: s.dir, At: at})
		case !s.dir && (old.size != s.size || !old.mtime.Equal(s.mtime)):
			events = append(events, Event{Path: rel, Change: Modified, At: at})
		}
	}
	for rel, s := range prev {
		if _, ok := next[rel]; !ok {
			events = append(events, Event{Path: rel, Change: Removed, Dir: s.dir, At: at})
		}
	}
	return events
}
