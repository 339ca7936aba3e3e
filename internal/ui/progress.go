package ui

import (
	"sync"
	"time"
)

const (
	// rateWindow is the minimum spacing of throughput samples.
	rateWindow = 500 * time.Millisecond
	// rateWeight is the share of a new sample in the smoothed rate.
	rateWeight = 0.25
)

// Snapshot is the progress state at one instant.
type Snapshot struct {
	Stage    Stage
	Done     int
	Total    int
	File     string
	Errors   int
	Warnings int
	// Rate is the smoothed throughput of the current stage in items/s.
	Rate float64
	Peak float64
	// ETA is zero until a rate is known.
	ETA     time.Duration
	Elapsed time.Duration
}

// Fraction returns Done/Total clamped to [0, 1].
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	return min(float64(s.Done)/float64(s.Total), 1)
}

// Tracker accumulates progress events for the TUI. It is safe for
// concurrent use.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	begin time.Time

	stage  Stage
	done   int
	total  int
	file   string
	errors int
	warns  int

	sampleAt   time.Time
	sampleDone int
	rate       float64
	peak       float64
	trend      *Trend
}

// NewTracker starts a tracker in StageWalking.
func NewTracker() *Tracker {
	return newTrackerAt(time.Now)
}

func newTrackerAt(now func() time.Time) *Tracker {
	t := now()
	return &Tracker{now: now, begin: t, sampleAt: t, trend: NewTrend(120)}
}

// SetStage moves to stage with total items and restarts the rate.
func (t *Tracker) SetStage(stage Stage, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stage, t.total = stage, total
	t.done, t.file = 0, ""
	t.sampleAt, t.sampleDone = t.now(), 0
	t.rate, t.peak = 0, 0
	t.trend.Reset()
}

// Update records done items in the current stage. An empty file keeps
// the previous one.
func (t *Tracker) Update(done int, file string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = done
	if file != "" {
		t.file = file
	}

	now := t.now()
	elapsed := now.Sub(t.sampleAt)
	if elapsed < rateWindow {
		return
	}
	if delta := done - t.sampleDone; delta > 0 {
		r := float64(delta) / elapsed.Seconds()
		if t.rate == 0 {
			t.rate = r
		} else {
			t.rate = rateWeight*r + (1-rateWeight)*t.rate
		}
		t.peak = max(t.peak, r)
		t.trend.Push(r)
	}
	t.sampleAt, t.sampleDone = now, done
}

// AddError counts a failure or warning.
func (t *Tracker) AddError(ev ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.IsWarn {
		t.warns++
	} else {
		t.errors++
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Stage:    t.stage,
		Done:     t.done,
		Total:    t.total,
		File:     t.file,
		Errors:   t.errors,
		Warnings: t.warns,
		Rate:     t.rate,
		Peak:     t.peak,
		Elapsed:  t.now().Sub(t.begin),
	}
	if left := t.total - t.done; left > 0 && t.rate > 0 {
		s.ETA = time.Duration(float64(left) / t.rate * float64(time.Second))
	}
	return s
}

// Trend draws the throughput history in width cells.
func (t *Tracker) Trend(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trend.Render(width)
}
