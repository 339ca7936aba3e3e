package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Aman-CERP/searchme/internal/embed"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/store"
)

// Files under the data directory.
const (
	MetadataFileName = "metadata.db"
	VectorFileName   = "vectors.hnsw"
)

// ErrNoIndex is the cause carried when a data directory holds no index.
var ErrNoIndex = errors.New("no index found")

// compactThreshold is the orphan share of the graph above which Persist compacts first.
const compactThreshold = 0.25

// Stores holds the pair of stores for one data directory. They are opened
// together, passed by reference and persisted together.
type Stores struct {
	Dir      string
	Metadata *store.SQLiteStore
	Vectors  *store.HNSWStore

	lock *WriterLock
}

// MetadataPath returns the metadata database path inside dataDir.
func MetadataPath(dataDir string) string { return filepath.Join(dataDir, MetadataFileName) }

// VectorPath returns the vector graph path inside dataDir.
func VectorPath(dataDir string) string { return filepath.Join(dataDir, VectorFileName) }

// Exists reports whether dataDir holds a metadata database.
func Exists(dataDir string) bool {
	_, err := os.Stat(MetadataPath(dataDir))
	return err == nil
}

// OpenStores opens or creates both stores in dataDir for use with embedder.
//
// The embedding model recorded in the index must match embedder (ERR_403).
// A missing or corrupt vector graph is rebuilt from the embeddings kept in
// the metadata store, and the two stores are reconciled before returning.
func OpenStores(ctx context.Context, dataDir string, embedder embed.Embedder) (*Stores, error) {
	return openStores(ctx, dataDir, embedder, true)
}

// OpenReader opens an existing index for queries. It fails with
// ErrNoIndex when dataDir holds none. While another process holds the
// writer lock the stores are loaded as they are and not reconciled.
func OpenReader(ctx context.Context, dataDir string, embedder embed.Embedder) (*Stores, error) {
	if !Exists(dataDir) {
		return nil, serrors.New(serrors.ErrCodeSearchUnavailable, ErrNoIndex.Error(), ErrNoIndex).
			WithDetail("data_dir", dataDir).
			WithSuggestion("Build one first with: searchme index [path]")
	}

	lock := NewWriterLock(dataDir)
	if err := lock.TryLock(); err != nil {
		if serrors.GetCode(err) != serrors.ErrCodeIndexLocked {
			return nil, err
		}
		slog.Debug("index_writer_active", slog.String("data_dir", dataDir))
		return openStores(ctx, dataDir, embedder, false)
	}
	defer func() { _ = lock.Unlock() }()
	return openStores(ctx, dataDir, embedder, true)
}

func openStores(ctx context.Context, dataDir string, embedder embed.Embedder, reconcile bool) (*Stores, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, serrors.New(serrors.ErrCodeConfigInvalid, "cannot create data directory", err).
			WithDetail("path", dataDir)
	}

	meta, err := store.NewSQLiteStore(MetadataPath(dataDir))
	if err != nil {
		return nil, err
	}

	dims, err := checkModel(ctx, meta, embedder)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	s := &Stores{Dir: dataDir, Metadata: meta, Vectors: vectors}
	if err := s.loadVectors(ctx, reconcile); err != nil {
		_ = s.Close()
		return nil, err
	}

	if !reconcile {
		return s, nil
	}
	if _, err := NewConsistencyChecker(meta, vectors).Reconcile(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenWriter takes the writer lock on dataDir and opens its stores. With
// force the existing index files are removed first. A second writer fails
// immediately with ERR_105; Close releases the lock.
func OpenWriter(ctx context.Context, dataDir string, embedder embed.Embedder, force bool) (*Stores, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, serrors.New(serrors.ErrCodeConfigInvalid, "cannot create data directory", err).
			WithDetail("path", dataDir)
	}

	lock := NewWriterLock(dataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}

	if force {
		if err := Clear(dataDir); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		slog.Info("index_cleared", slog.String("data_dir", dataDir))
	}

	s, err := OpenStores(ctx, dataDir, embedder)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.lock = lock
	return s, nil
}

// checkModel compares the stored model with embedder and returns the vector
// dimension the index uses.
func checkModel(ctx context.Context, meta *store.SQLiteStore, embedder embed.Embedder) (int, error) {
	model, err := meta.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return 0, err
	}
	dimStr, err := meta.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return 0, err
	}
	stored, _ := strconv.Atoi(dimStr)

	if err := embed.CheckCompatible(embedder, model, stored); err != nil {
		return 0, err
	}

	dims := embedder.Dimensions()
	if dims == 0 {
		dims = stored
	}
	if dims == 0 {
		return 0, serrors.BackendError("embedder reported no dimension", nil)
	}

	if model == "" {
		if err := meta.SetState(ctx, store.StateKeyIndexModel, embedder.ModelName()); err != nil {
			return 0, err
		}
		if err := meta.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(dims)); err != nil {
			return 0, err
		}
	}
	return dims, nil
}

// loadVectors reads the graph, rebuilding it from metadata when it is
// missing or unreadable. The rebuilt graph is saved only when persist is set.
func (s *Stores) loadVectors(ctx context.Context, persist bool) error {
	path := VectorPath(s.Dir)
	err := s.Vectors.Load(path)
	switch {
	case err == nil:
		if s.Vectors.Dimensions() != s.dims(ctx) {
			return serrors.New(serrors.ErrCodeSchemaMismatch, "vector index dimension does not match metadata", nil).
				WithSuggestion("Rebuild with: searchme index --force")
		}
		return nil
	case serrors.GetCode(err) == serrors.ErrCodeSchemaMismatch:
		return err
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("vector_index_missing", slog.String("path", path))
	default:
		slog.Warn("vector_index_unreadable", slog.String("path", path), slog.String("error", err.Error()))
	}

	n, err := RebuildVectors(ctx, s.Metadata, s.Vectors)
	if err != nil {
		return err
	}
	if n > 0 && persist {
		return s.Vectors.Save(path)
	}
	return nil
}

func (s *Stores) dims(ctx context.Context) int {
	v, _ := s.Metadata.GetState(ctx, store.StateKeyIndexDimension)
	n, _ := strconv.Atoi(v)
	return n
}

// Persist writes the vector graph to disk, compacting it first when lazily
// deleted nodes make up a large share of it.
func (s *Stores) Persist() error {
	st := s.Vectors.Stats()
	if st.GraphNodes > 0 && float64(st.Orphans)/float64(st.GraphNodes) > compactThreshold {
		if _, err := s.Vectors.Compact(); err != nil {
			return fmt.Errorf("compact vectors: %w", err)
		}
	}
	if err := s.Vectors.Save(VectorPath(s.Dir)); err != nil {
		return fmt.Errorf("persist vectors: %w", err)
	}
	return nil
}

// MarkRun records the completion time of an indexing run.
func (s *Stores) MarkRun(ctx context.Context, at time.Time) error {
	return s.Metadata.SetState(ctx, store.StateKeyLastRun, at.UTC().Format(time.RFC3339))
}

// Close closes both stores and releases the writer lock if held.
func (s *Stores) Close() error {
	var errs []error
	if s.Vectors != nil {
		errs = append(errs, s.Vectors.Close())
	}
	if s.Metadata != nil {
		errs = append(errs, s.Metadata.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Clear removes every index file in dataDir. Sessions are kept.
func Clear(dataDir string) error {
	names := []string{
		MetadataFileName, MetadataFileName + "-wal", MetadataFileName + "-shm",
		VectorFileName, VectorFileName + ".meta",
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(dataDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}
