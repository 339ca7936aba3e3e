package store

import (
	"bufio"
	"cmp"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// keyring maps record IDs onto graph keys. Graph keys are never reused, so a
// replaced or deleted record leaves an orphan node behind until Compact.
type keyring struct {
	byID  map[uint64]uint64
	byKey map[uint64]uint64
	next  uint64
}

func newKeyring(byID map[uint64]uint64, next uint64) *keyring {
	if byID == nil {
		byID = make(map[uint64]uint64)
	}
	k := &keyring{byID: byID, byKey: make(map[uint64]uint64, len(byID)), next: next}
	for id, key := range byID {
		k.byKey[key] = id
	}
	return k
}

func (k *keyring) assign(id uint64) uint64 {
	k.drop(id)
	key := k.next
	k.next++
	k.byID[id] = key
	k.byKey[key] = id
	return key
}

func (k *keyring) drop(id uint64) {
	if key, ok := k.byID[id]; ok {
		delete(k.byKey, key)
		delete(k.byID, id)
	}
}

func (k *keyring) live() int { return len(k.byID) }

// HNSWStore is the VectorStore backed by coder/hnsw.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig
	keys   *keyring
	closed bool
}

// sidecar is gob-encoded next to the exported graph.
type sidecar struct {
	Version int
	IDMap   map[uint64]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

func sidecarPath(path string) string { return path + ".meta" }

// NewHNSWStore creates an empty store. Zero config fields take defaults.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	return &HNSWStore{graph: newGraph(cfg), config: cfg, keys: newKeyring(nil, 0)}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Dimensions returns the configured vector dimension.
func (s *HNSWStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// prepare copies v, normalizing it for the cosine metric.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := slices.Clone(v)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(out)
	}
	return out
}

// Add inserts a batch. Nothing is inserted unless every vector has the
// store's dimension. Re-adding an ID replaces its vector.
func (s *HNSWStore) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if i := slices.IndexFunc(vectors, func(v []float32) bool { return len(v) != s.config.Dimensions }); i >= 0 {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
	}

	for i, id := range ids {
		s.graph.Add(hnsw.MakeNode(s.keys.assign(id), s.prepare(vectors[i])))
	}
	return nil
}

// Search returns up to k live neighbours of query, nearest first.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || s.keys.live() == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)
	// Orphans may take result slots, so over-fetch by their count.
	total := s.graph.Len()
	nodes := s.graph.Search(q, min(k+total-s.keys.live(), total))

	out := make([]*VectorResult, 0, k)
	for _, n := range nodes {
		id, live := s.keys.byKey[n.Key]
		if !live {
			continue
		}
		d := s.graph.Distance(q, n.Value)
		out = append(out, &VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)})
		if len(out) == k {
			break
		}
	}
	// The graph is approximate and orphans can crowd out every live node.
	if len(out) < min(k, s.keys.live()) {
		return s.scan(q, k), nil
	}
	return out, nil
}

// scan ranks every live vector by exact distance to q.
func (s *HNSWStore) scan(q []float32, k int) []*VectorResult {
	out := make([]*VectorResult, 0, s.keys.live())
	for key, id := range s.keys.byKey {
		v, ok := s.graph.Lookup(key)
		if !ok {
			continue
		}
		d := s.graph.Distance(q, v)
		out = append(out, &VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)})
	}
	slices.SortFunc(out, func(a, b *VectorResult) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ID, b.ID))
	})
	return out[:min(k, len(out))]
}

// Delete forgets ids. Unknown IDs are ignored.
func (s *HNSWStore) Delete(_ context.Context, ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		s.keys.drop(id)
	}
	return nil
}

// AllIDs returns the live record IDs in no particular order.
func (s *HNSWStore) AllIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	return slices.Collect(maps.Keys(s.keys.byID))
}

func (s *HNSWStore) Contains(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.keys.byID[id]
	return ok
}

func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.keys.live()
}

// HNSWStats compares live vectors with graph nodes.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats is used by the indexer to decide when to compact.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	live, nodes := s.keys.live(), s.graph.Len()
	return HNSWStats{ValidIDs: live, GraphNodes: nodes, Orphans: nodes - live}
}

// Compact rebuilds the graph from live vectors and reports how many orphan
// nodes were dropped.
func (s *HNSWStore) Compact() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	orphans := s.graph.Len() - s.keys.live()
	if orphans == 0 {
		return 0, nil
	}

	graph := newGraph(s.config)
	keys := newKeyring(nil, 0)
	for id, key := range s.keys.byID {
		if vec, ok := s.graph.Lookup(key); ok {
			graph.Add(hnsw.MakeNode(keys.assign(id), vec))
		}
	}
	s.graph, s.keys = graph, keys

	slog.Debug("hnsw_compacted", slog.Int("orphans", orphans), slog.Int("live", keys.live()))
	return orphans, nil
}

// writeAtomic replaces path with what fill writes, or leaves it untouched.
func writeAtomic(path string, fill func(io.Writer) error) error {
	f, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Cleanup() }()

	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}

// Save writes the graph to path and the ID mapping to its sidecar.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector directory: %w", err)
	}
	if err := writeAtomic(path, s.graph.Export); err != nil {
		return fmt.Errorf("export vector graph: %w", err)
	}
	meta := sidecar{Version: VectorFormatVersion, IDMap: s.keys.byID, NextKey: s.keys.next, Config: s.config}
	err := writeAtomic(sidecarPath(path), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("write vector sidecar: %w", err)
	}
	return nil
}

// Load replaces the store's contents with the index saved at path.
// A missing index satisfies errors.Is(err, os.ErrNotExist); an index from
// another format version is ERR_403 and unreadable data is ERR_402.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	meta, err := readSidecar(sidecarPath(path))
	if err != nil {
		return err
	}
	if meta.Version != VectorFormatVersion {
		return serrors.New(serrors.ErrCodeSchemaMismatch,
			fmt.Sprintf("vector index format %d, expected %d", meta.Version, VectorFormatVersion), nil).
			WithSuggestion("Rebuild with: searchme index --force")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector graph: %w", err)
	}
	defer func() { _ = f.Close() }()

	graph := newGraph(meta.Config)
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return serrors.New(serrors.ErrCodeIndexCorrupt, "failed to import vector graph", err)
	}

	s.graph = graph
	s.config = meta.Config
	s.keys = newKeyring(meta.IDMap, meta.NextKey)
	return nil
}

func readSidecar(path string) (*sidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector sidecar: %w", err)
	}
	defer func() { _ = f.Close() }()

	var meta sidecar
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, serrors.New(serrors.ErrCodeIndexCorrupt, "failed to decode vector sidecar", err)
	}
	return &meta, nil
}

// Close releases the graph. Closing twice is a no-op.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// ReadVectorDimensions reports the dimension of a saved index without
// loading its graph, or 0 if nothing was saved yet.
func ReadVectorDimensions(vectorPath string) (int, error) {
	meta, err := readSidecar(sidecarPath(vectorPath))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a similarity in (0, 1]. Cosine
// distance lies in [0, 2].
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance/2
}
