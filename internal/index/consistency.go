package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector indicates a vector entry without matching metadata.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector indicates a metadata record missing from the vector store.
	InconsistencyMissingVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type     InconsistencyType
	RecordID uint64
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of metadata records verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether no issues were found.
func (r *CheckResult) Consistent() bool { return len(r.Inconsistencies) == 0 }

// RepairResult counts what Repair changed.
type RepairResult struct {
	OrphansDropped  int
	VectorsRestored int
	// RecordsDropped are records with no stored embedding; their files are
	// picked up again by the next index run.
	RecordsDropped int
}

// Total returns the number of repaired entries.
func (r RepairResult) Total() int {
	return r.OrphansDropped + r.VectorsRestored + r.RecordsDropped
}

// ConsistencyChecker reconciles the vector store against the metadata store,
// which is the source of truth.
type ConsistencyChecker struct {
	metadata store.MetadataStore
	vector   store.VectorStore
}

// NewConsistencyChecker creates a new checker with the given stores.
func NewConsistencyChecker(metadata store.MetadataStore, vector store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{metadata: metadata, vector: vector}
}

// Check compares record ids across both stores.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	recordIDs, err := c.metadata.AllRecordIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[uint64]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		known[id] = struct{}{}
	}

	var issues []Inconsistency
	vectorIDs := c.vector.AllIDs()
	present := make(map[uint64]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		present[id] = struct{}{}
		if _, ok := known[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, RecordID: id})
		}
	}
	for _, id := range recordIDs {
		if _, ok := present[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, RecordID: id})
		}
	}

	return &CheckResult{
		Checked:         len(recordIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair fixes the given issues. Orphan vectors are dropped; missing vectors
// are re-added from embeddings stored with their records. A failure of the
// reconciliation itself is an ERR_401 error.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (RepairResult, error) {
	var res RepairResult
	var orphans, missing []uint64
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphans = append(orphans, issue.RecordID)
		case InconsistencyMissingVector:
			missing = append(missing, issue.RecordID)
		}
	}

	if len(orphans) > 0 {
		if err := c.vector.Delete(ctx, orphans); err != nil {
			return res, serrors.New(serrors.ErrCodeIndexInconsistent, "failed to drop orphan vectors", err)
		}
		res.OrphansDropped = len(orphans)
	}

	if len(missing) > 0 {
		embeddings, err := c.metadata.Embeddings(ctx, missing)
		if err != nil {
			return res, serrors.New(serrors.ErrCodeIndexInconsistent, "failed to read stored embeddings", err)
		}

		var ids []uint64
		var vecs [][]float32
		var lost []uint64
		dims := c.vector.Dimensions()
		for _, id := range missing {
			vec, ok := embeddings[id]
			if !ok || len(vec) != dims {
				lost = append(lost, id)
				continue
			}
			ids = append(ids, id)
			vecs = append(vecs, vec)
		}

		if err := c.vector.Add(ctx, ids, vecs); err != nil {
			return res, serrors.New(serrors.ErrCodeIndexInconsistent, "failed to restore vectors", err)
		}
		res.VectorsRestored = len(ids)

		if len(lost) > 0 {
			if err := c.metadata.DeleteRecords(ctx, lost); err != nil {
				return res, serrors.New(serrors.ErrCodeIndexInconsistent,
					fmt.Sprintf("failed to drop %d unrecoverable records", len(lost)), err)
			}
			res.RecordsDropped = len(lost)
		}
	}

	if res.Total() > 0 {
		slog.Warn("index_reconciled",
			slog.Int("orphans_dropped", res.OrphansDropped),
			slog.Int("vectors_restored", res.VectorsRestored),
			slog.Int("records_dropped", res.RecordsDropped))
	}
	return res, nil
}

// Reconcile runs Check followed by Repair.
func (c *ConsistencyChecker) Reconcile(ctx context.Context) (RepairResult, error) {
	result, err := c.Check(ctx)
	if err != nil {
		return RepairResult{}, serrors.New(serrors.ErrCodeIndexInconsistent, "consistency check failed", err)
	}
	if result.Consistent() {
		slog.Debug("index_consistent", slog.Int("records", result.Checked))
		return RepairResult{}, nil
	}
	return c.Repair(ctx, result.Inconsistencies)
}

// QuickCheck only compares counts across stores.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	ids, err := c.metadata.AllRecordIDs(ctx)
	if err != nil {
		return false, err
	}
	consistent := len(ids) == c.vector.Count()
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("metadata", len(ids)),
			slog.Int("vector", c.vector.Count()))
	}
	return consistent, nil
}

// RebuildVectors repopulates an empty vector store from stored embeddings.
// Records whose embedding is missing or has the wrong dimension are dropped.
func RebuildVectors(ctx context.Context, metadata store.MetadataStore, vector store.VectorStore) (int, error) {
	embeddings, err := metadata.Embeddings(ctx, nil)
	if err != nil {
		return 0, serrors.New(serrors.ErrCodeIndexInconsistent, "failed to read stored embeddings", err)
	}

	dims := vector.Dimensions()
	ids := make([]uint64, 0, len(embeddings))
	vecs := make([][]float32, 0, len(embeddings))
	for id, vec := range embeddings {
		if len(vec) != dims {
			continue
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}

	const batch = 1024
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		if err := vector.Add(ctx, ids[start:end], vecs[start:end]); err != nil {
			return start, serrors.New(serrors.ErrCodeIndexInconsistent, "failed to rebuild vector index", err)
		}
	}

	// Whatever could not be restored is now missing on the vector side.
	if _, err := NewConsistencyChecker(metadata, vector).Reconcile(ctx); err != nil {
		return len(ids), err
	}

	slog.Info("vectors_rebuilt", slog.Int("vectors", len(ids)))
	return len(ids), nil
}
