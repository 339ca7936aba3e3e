package watcher

import (
	"sort"
	"sync"
	"time"
)

// merge folds a later change to a path into an earlier one still waiting
// in the batch. ok is false when the two cancel out.
func merge(prev, next Change) (c Change, ok bool) {
	switch {
	case prev == Created && next == Modified:
		return Created, true
	case prev == Created && next == Removed:
		return 0, false
	case prev == Removed && (next == Created || next == Modified):
		// Replaced in place, e.g. by an editor's atomic save.
		return Modified, true
	}
	return next, true
}

// batcher collects events until the tree is quiet for window, or until
// maxDelay has passed since the first pending event, then hands the batch
// to emit sorted by path.
type batcher struct {
	window   time.Duration
	maxDelay time.Duration
	emit     func([]Event)

	mu       sync.Mutex
	pending  map[string]Event
	first    time.Time
	timer    *time.Timer
	closed   bool
	inflight sync.WaitGroup
}

func newBatcher(window, maxDelay time.Duration, emit func([]Event)) *batcher {
	return &batcher{
		window:   window,
		maxDelay: maxDelay,
		emit:     emit,
		pending:  make(map[string]Event),
	}
}

func (b *batcher) add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if prev, ok := b.pending[ev.Path]; ok {
		c, keep := merge(prev.Change, ev.Change)
		if !keep {
			delete(b.pending, ev.Path)
			return
		}
		ev.Change = c
	}
	b.pending[ev.Path] = ev

	now := time.Now()
	if b.first.IsZero() {
		b.first = now
	}
	wait := b.window
	if deadline := b.first.Add(b.maxDelay); now.Add(wait).After(deadline) {
		wait = max(deadline.Sub(now), 0)
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(wait, b.flush)
	} else {
		b.timer.Reset(wait)
	}
}

func (b *batcher) flush() {
	b.mu.Lock()
	if b.closed || len(b.pending) == 0 {
		b.first = time.Time{}
		b.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(b.pending))
	for _, ev := range b.pending {
		batch = append(batch, ev)
	}
	b.pending = make(map[string]Event)
	b.first = time.Time{}
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	b.emit(batch)
}

// close drops pending events and waits for a running emit to return.
func (b *batcher) close() {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	b.inflight.Wait()
}
