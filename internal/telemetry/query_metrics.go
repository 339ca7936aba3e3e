// Package telemetry keeps a local log of query activity: how many questions
// were asked, how fast they were answered, which ones found nothing and
// which terms come up most. Nothing leaves the machine.
package telemetry

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind is the operation a query went through.
type Kind string

const (
	KindSearch Kind = "search" // retrieval only
	KindAnswer Kind = "answer" // retrieval plus a model reply
	// KindFallback is an answer served as a result list because the model
	// was unreachable.
	KindFallback Kind = "fallback"
)

// LatencyBucket names a latency histogram bucket.
type LatencyBucket string

const (
	BucketP100   LatencyBucket = "p100"
	BucketP500   LatencyBucket = "p500"
	BucketP2000  LatencyBucket = "p2000"
	BucketP10000 LatencyBucket = "p10000"
	BucketSlow   LatencyBucket = "slow"
)

// Buckets lists the latency buckets in ascending order.
var Buckets = []LatencyBucket{BucketP100, BucketP500, BucketP2000, BucketP10000, BucketSlow}

var bucketBounds = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second, 10 * time.Second}

// LatencyToBucket returns the bucket for d. Buckets are wide because
// answers include generation time.
func LatencyToBucket(d time.Duration) LatencyBucket {
	for i, bound := range bucketBounds {
		if d < bound {
			return Buckets[i]
		}
	}
	return BucketSlow
}

// QueryEvent is one completed query.
type QueryEvent struct {
	Query       string
	Kind        Kind
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "what": true,
	"where": true, "when": true, "which": true, "who": true, "how": true, "does": true,
	"did": true, "with": true, "from": true, "that": true, "this": true, "have": true,
	"about": true, "any": true, "all": true, "can": true, "you": true, "find": true,
	"show": true, "file": true, "files": true,
}

func termRune(r rune) bool {
	return r == '_' || r == '-' || r == '.' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r > 127
}

// ExtractTerms lowercases query and returns its words of three or more
// letters, minus common question words.
func ExtractTerms(query string) []string {
	var terms []string
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool { return !termRune(r) })
	for _, w := range words {
		if w = strings.Trim(w, "-."); len(w) >= 3 && !stopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	KindCounts          map[Kind]int64          `json:"kind_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Delta is what a collector recorded since its last flush.
type Delta struct {
	Kinds       map[Kind]int64
	Latencies   map[LatencyBucket]int64
	Terms       map[string]int64
	ZeroResults []string
	At          time.Time
}

func newDelta() Delta {
	return Delta{
		Kinds:     make(map[Kind]int64),
		Latencies: make(map[LatencyBucket]int64),
		Terms:     make(map[string]int64),
	}
}

func (d Delta) empty() bool { return len(d.Kinds) == 0 }

// Store persists metrics between processes. Apply adds to what is stored,
// so several collectors can share one store.
type Store interface {
	Apply(d Delta) error
	Load(topTerms, zeroResults int) (*Snapshot, error)
	Close() error
}

// Config configures the collector.
type Config struct {
	TopTermsCapacity    int           // distinct terms tracked in memory
	ZeroResultsCapacity int           // zero-result queries kept in memory
	FlushInterval       time.Duration // 0 flushes only on Flush and Close
}

func DefaultConfig() Config {
	return Config{TopTermsCapacity: 100, ZeroResultsCapacity: 50}
}

// QueryMetrics collects query telemetry. It is safe for concurrent use.
type QueryMetrics struct {
	mu      sync.Mutex
	kinds   map[Kind]int64
	latency map[LatencyBucket]int64
	terms   *lru.Cache[string, int64]
	misses  *ring[string]
	total   int64
	zero    int64
	since   time.Time
	pending Delta
	closed  bool

	store Store
	stop  chan struct{}
	done  chan struct{}
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	m := &QueryMetrics{
		kinds:   make(map[Kind]int64),
		latency: make(map[LatencyBucket]int64),
		terms:   terms,
		misses:  newRing[string](cfg.ZeroResultsCapacity),
		since:   time.Now(),
		pending: newDelta(),
		store:   store,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if store == nil || cfg.FlushInterval <= 0 {
		close(m.done)
		return m
	}
	go m.flushEvery(cfg.FlushInterval)
	return m
}

func (m *QueryMetrics) flushEvery(interval time.Duration) {
	defer close(m.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = m.Flush()
		case <-m.stop:
			return
		}
	}
}

// Record captures one query. It never touches the store.
func (m *QueryMetrics) Record(e QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	bucket := LatencyToBucket(e.Latency)
	m.total++
	m.kinds[e.Kind]++
	m.latency[bucket]++
	m.pending.Kinds[e.Kind]++
	m.pending.Latencies[bucket]++

	for _, term := range ExtractTerms(e.Query) {
		n, _ := m.terms.Get(term)
		m.terms.Add(term, n+1)
		m.pending.Terms[term]++
	}

	if e.ResultCount == 0 {
		m.zero++
		m.misses.push(e.Query)
		m.pending.ZeroResults = append(m.pending.ZeroResults, e.Query)
	}
}

// Snapshot returns what this process recorded.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		KindCounts:          maps.Clone(m.kinds),
		LatencyDistribution: maps.Clone(m.latency),
		ZeroResultQueries:   m.misses.items(),
		TotalQueries:        m.total,
		ZeroResultCount:     m.zero,
		Since:               m.since,
	}
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	slices.SortFunc(s.TopTerms, func(a, b TermCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), strings.Compare(a.Term, b.Term))
	})
	return s
}

// Flush hands the counts recorded since the last flush to the store.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	d := m.pending
	m.pending = newDelta()
	m.mu.Unlock()

	if d.empty() {
		return nil
	}
	d.At = time.Now()
	return m.store.Apply(d)
}

// Close stops periodic flushing, flushes once more and closes the store.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	err := m.Flush()
	if m.store != nil {
		err = cmp.Or(err, m.store.Close())
	}
	return err
}

// ring keeps the newest n values.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](n int) *ring[T] {
	return &ring[T]{buf: make([]T, max(n, 1))}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	r.full = r.full || r.next == 0
}

func (r *ring[T]) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// items returns the values oldest first.
func (r *ring[T]) items() []T {
	if !r.full {
		return slices.Clone(r.buf[:r.next])
	}
	return append(slices.Clone(r.buf[r.next:]), r.buf[:r.next]...)
}
