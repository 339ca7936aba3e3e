// Package store holds what the indexer writes and the query engine reads:
// per-record metadata in SQLite and embeddings in an HNSW graph.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Keys of the state table.
const (
	StateKeyIndexModel     = "index_embedding_model"
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyLastRun        = "last_run" // RFC3339
	StateKeyRoots          = "roots"    // newline separated
)

const (
	CurrentSchemaVersion = 1
	VectorFormatVersion  = 1
)

// MaxSnippetBytes caps the stored snippet for a single record.
const MaxSnippetBytes = 4000

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// FileRecord is the per-file row used for change detection.
type FileRecord struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentHash string
	Type        string
	MIME        string
	Attributes  map[string]string
	ChunkCount  int
	IndexedAt   time.Time
}

// Record is one indexed chunk. Exactly one vector exists per record.
type Record struct {
	ID      uint64
	Path    string
	Ordinal int
	Section string
	Snippet string

	// File level fields, joined from the files table on read.
	ContentHash string
	ModTime     time.Time
	Size        int64
	Type        string
	Attributes  map[string]string
	IndexedAt   time.Time

	// Embedding is written on insert and only loaded by Embeddings.
	Embedding []float32
}

// Stats summarises the metadata store.
type Stats struct {
	Files       int
	Records     int
	Bytes       int64
	ByType      map[string]int
	LastIndexed time.Time
	DBSize      int64
}

// MetadataStore persists file and record metadata.
type MetadataStore interface {
	ReplaceFile(ctx context.Context, file *FileRecord, records []*Record) (added, removed []uint64, err error)
	ReplaceFileStaged(ctx context.Context, file *FileRecord, records []*Record,
		stage func(added, removed []uint64) error) (added, removed []uint64, err error)
	TouchFile(ctx context.Context, path string, modTime time.Time, size int64) error
	Get(ctx context.Context, id uint64) (*Record, error)
	GetMany(ctx context.Context, ids []uint64) (map[uint64]*Record, error)
	GetFile(ctx context.Context, path string) (*FileRecord, error)
	ListFiles(ctx context.Context) ([]*FileRecord, error)
	DeleteFile(ctx context.Context, path string) ([]uint64, error)
	AllRecordIDs(ctx context.Context) ([]uint64, error)
	DeleteRecords(ctx context.Context, ids []uint64) error
	Embeddings(ctx context.Context, ids []uint64) (map[uint64][]float32, error)
	Stats(ctx context.Context) (*Stats, error)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	Close() error
}

type VectorResult struct {
	ID       uint64
	Distance float32 // cosine distance lies in [0, 2]
	Score    float32 // similarity in (0, 1], higher is closer
}

// VectorStoreConfig sets up the graph. Metric is "cos" or "l2"; M and
// EfSearch are the HNSW fan-out and query width.
type VectorStoreConfig struct {
	Dimensions int
	Metric     string
	M          int
	EfSearch   int
}

func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{Dimensions: dimensions, Metric: "cos", M: 16, EfSearch: 64}
}

// VectorStore is an approximate nearest neighbour index keyed by record ID.
// Adding an existing ID replaces its vector.
type VectorStore interface {
	Add(ctx context.Context, ids []uint64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []uint64) error
	AllIDs() []uint64
	Contains(id uint64) bool
	Count() int
	Dimensions() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch means a vector does not fit the index, usually because
// the embedding model changed.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'searchme index --force')", e.Expected, e.Got)
}
