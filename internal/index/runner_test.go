package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchme/internal/config"
	"github.com/Aman-CERP/searchme/internal/embed"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/store"
	"github.com/Aman-CERP/searchme/internal/ui"
)

// recordingRenderer implements ui.Renderer for testing.
type recordingRenderer struct {
	mu        sync.Mutex
	progress  []ui.ProgressEvent
	errors    []ui.ErrorEvent
	completed *ui.CompletionStats
}

func (r *recordingRenderer) Start(context.Context) error { return nil }
func (r *recordingRenderer) Stop() error                 { return nil }

func (r *recordingRenderer) UpdateProgress(event ui.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, event)
}

func (r *recordingRenderer) AddError(event ui.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, event)
}

func (r *recordingRenderer) Complete(stats ui.CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = &stats
}

// hookEmbedder wraps the static embedder, rejecting any batch that contains
// "POISON" and calling onBatch before each batch.
type hookEmbedder struct {
	*embed.StaticEmbedder
	batches atomic.Int32
	onBatch func(n int32)
}

func newHookEmbedder() *hookEmbedder {
	return &hookEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
}

func (h *hookEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := h.batches.Add(1)
	if h.onBatch != nil {
		h.onBatch(n)
	}
	for _, t := range texts {
		if strings.Contains(t, "POISON") {
			return nil, serrors.BackendError("backend rejected input", nil)
		}
		if strings.Contains(t, "BADDIM") {
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = make([]float32, 8)
				out[i][0] = 1
			}
			return out, nil
		}
	}
	return h.StaticEmbedder.EmbedBatch(ctx, texts)
}

type testEnv struct {
	t       *testing.T
	dataDir string
	root    string
	stores  *Stores
	cfg     *config.Config
	emb     embed.Embedder
	render  *recordingRenderer
	runner  *Runner
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		t:       t,
		dataDir: t.TempDir(),
		root:    t.TempDir(),
		emb:     newHookEmbedder(),
		render:  &recordingRenderer{},
	}
	env.cfg = config.NewConfig()
	env.cfg.Index.Workers = 2
	env.cfg.Index.BatchTimeout = 10 * time.Millisecond
	for _, m := range mutate {
		m(env.cfg)
	}
	env.open()
	t.Cleanup(func() {
		if env.stores != nil {
			_ = env.stores.Close()
		}
	})
	return env
}

func (e *testEnv) open() {
	e.t.Helper()
	stores, err := OpenWriter(context.Background(), e.dataDir, e.emb, false)
	require.NoError(e.t, err)
	e.stores = stores
	runner, err := NewRunner(Dependencies{
		Stores:   stores,
		Embedder: e.emb,
		Renderer: e.render,
		Config:   e.cfg,
	})
	require.NoError(e.t, err)
	e.runner = runner
}

func (e *testEnv) reopen() {
	e.t.Helper()
	require.NoError(e.t, e.stores.Close())
	e.stores = nil
	e.open()
}

func (e *testEnv) write(rel, content string) string {
	e.t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) run() *RunStats {
	e.t.Helper()
	stats, err := e.runner.Run(context.Background(), []string{e.root})
	require.NoError(e.t, err)
	return stats
}

func (e *testEnv) indexedPaths() []string {
	e.t.Helper()
	files, err := e.stores.Metadata.ListFiles(context.Background())
	require.NoError(e.t, err)
	var out []string
	for _, f := range files {
		rel, err := filepath.Rel(e.root, f.Path)
		require.NoError(e.t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func (e *testEnv) requireConsistent() {
	e.t.Helper()
	ids, err := e.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(e.t, err)
	assert.Equal(e.t, len(ids), e.stores.Vectors.Count(), "vector count matches record count")

	result, err := NewConsistencyChecker(e.stores.Metadata, e.stores.Vectors).Check(context.Background())
	require.NoError(e.t, err)
	assert.True(e.t, result.Consistent(), "stores are consistent: %+v", result.Inconsistencies)
}

// touchLater moves a file's mtime forward so the size/mtime pre-filter
// cannot skip it.
func touchLater(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
}

func TestRunner_IndexesNewFiles(t *testing.T) {
	// Given: a root with two text files and a binary blob
	env := newTestEnv(t)
	env.write("notes.txt", "Quarterly planning notes for the storage team.")
	env.write("docs/readme.md", "# Setup\n\nInstall the tool and run it.")
	env.write("blob.bin", string([]byte{0x00, 0x01, 0x02, 0xfe, 0xff, 0x00, 0x10}))

	// When: indexing
	stats := env.run()

	// Then: both text files are indexed and the blob is skipped
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
	assert.GreaterOrEqual(t, stats.Chunks, 2)
	assert.False(t, stats.Aborted)
	assert.Equal(t, []string{"docs/readme.md", "notes.txt"}, env.indexedPaths())
	env.requireConsistent()

	// And: the runner is idle and the run is recorded
	assert.Equal(t, StateIdle, env.runner.State())
	last, err := env.stores.Metadata.GetState(context.Background(), store.StateKeyLastRun)
	require.NoError(t, err)
	assert.NotEmpty(t, last)
	assert.Equal(t, []string{env.root}, Roots(context.Background(), env.stores.Metadata))
}

func TestRunner_CompletionReported(t *testing.T) {
	env := newTestEnv(t)
	env.write("a.txt", "alpha")

	env.run()

	env.render.mu.Lock()
	defer env.render.mu.Unlock()
	require.NotNil(t, env.render.completed)
	assert.Equal(t, 1, env.render.completed.Indexed)
	assert.Equal(t, "static", env.render.completed.Embedder.Backend)
	assert.NotEmpty(t, env.render.progress)
}

func TestRunner_Idempotent(t *testing.T) {
	// Given: an indexed root
	env := newTestEnv(t)
	env.write("a.txt", "alpha document")
	env.write("b.txt", "beta document")
	env.run()

	before, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)

	// When: indexing again with no changes
	stats := env.run()

	// Then: nothing is re-embedded and the record set is unchanged
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, 2, stats.Skipped)

	after, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	env.requireConsistent()
}

func TestRunner_UpdatesChangedFile(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t)
	path := env.write("a.txt", "original content")
	env.run()
	oldIDs, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)

	// When: its content changes
	require.NoError(t, os.WriteFile(path, []byte("rewritten content that is different"), 0o644))
	touchLater(t, path)
	stats := env.run()

	// Then: it is updated in place with fresh records
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 0, stats.Indexed)

	newIDs, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)
	for _, id := range oldIDs {
		assert.NotContains(t, newIDs, id, "old records are replaced")
	}
	rec, err := env.stores.Metadata.Get(context.Background(), newIDs[0])
	require.NoError(t, err)
	assert.Contains(t, rec.Snippet, "rewritten")
	env.requireConsistent()
}

func TestRunner_TouchWithoutChange(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t)
	path := env.write("a.txt", "stable content")
	env.run()

	// When: only its mtime changes
	touchLater(t, path)
	stats := env.run()

	// Then: it is skipped but the stored mtime follows the file
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)

	info, err := os.Stat(path)
	require.NoError(t, err)
	rec, err := env.stores.Metadata.GetFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.ModTime.Equal(info.ModTime()))

	// And: the next run takes the fast path
	stats = env.run()
	assert.Equal(t, 1, stats.Skipped)
}

func TestRunner_RemovesDeletedFiles(t *testing.T) {
	// Given: two indexed files
	env := newTestEnv(t)
	env.write("keep.txt", "keep me")
	gone := env.write("gone.txt", "delete me")
	env.run()

	// When: one is deleted from disk
	require.NoError(t, os.Remove(gone))
	stats := env.run()

	// Then: it leaves the index
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, []string{"keep.txt"}, env.indexedPaths())
	env.requireConsistent()
}

func TestRunner_DeletionScopedToWalkedRoots(t *testing.T) {
	// Given: an index over two roots
	env := newTestEnv(t)
	env.write("a.txt", "first root")
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "b.txt"), []byte("second root"), 0o644))

	env.run()
	_, err := env.runner.Run(context.Background(), []string{other})
	require.NoError(t, err)

	// When: only the first root is indexed again
	stats := env.run()

	// Then: the second root's files survive
	assert.Equal(t, 0, stats.Deleted)
	files, err := env.stores.Metadata.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.ElementsMatch(t, []string{env.root, other}, Roots(context.Background(), env.stores.Metadata))
}

func TestRunner_ExclusionRules(t *testing.T) {
	// Given: an exclusion pattern and a .searchmeignore file
	env := newTestEnv(t, func(c *config.Config) {
		c.Paths.Exclude = []string{"*.log"}
		c.Paths.SkipHidden = true
	})
	env.write("a.txt", "indexed")
	env.write("debug.log", "excluded by pattern")
	env.write(".searchmeignore", "private/\n")
	env.write("private/secret.txt", "excluded by ignore file")
	env.write("node_modules/pkg/readme.txt", "noise")

	// When: indexing
	env.run()

	// Then: only unexcluded files are indexed
	assert.Equal(t, []string{"a.txt"}, env.indexedPaths())
}

func TestRunner_NewlyExcludedFilesRemoved(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t)
	env.write("a.txt", "stays")
	env.write("drafts/b.txt", "will be excluded")
	env.run()
	require.Len(t, env.indexedPaths(), 2)

	// When: its directory becomes excluded
	env.cfg.Paths.Exclude = []string{"drafts/"}
	stats := env.run()

	// Then: it leaves the index
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, []string{"a.txt"}, env.indexedPaths())
	env.requireConsistent()
}

func TestRunner_FailureIsolation(t *testing.T) {
	// Given: a root with a corrupt PDF and a file the backend rejects
	env := newTestEnv(t)
	env.write("good.txt", "a perfectly fine document")
	env.write("broken.pdf", "%PDF-1.7\nthis is not really a pdf at all\n")
	env.write("bad.txt", "POISON payload")

	// When: indexing
	stats := env.run()

	// Then: the run succeeds and only the bad files fail
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 2, stats.Failed)
	require.Len(t, stats.Failures, 2)

	var failed []string
	for _, f := range stats.Failures {
		failed = append(failed, filepath.Base(f.Path))
	}
	assert.ElementsMatch(t, []string{"broken.pdf", "bad.txt"}, failed)
	assert.Equal(t, []string{"good.txt"}, env.indexedPaths())
	env.requireConsistent()

	env.render.mu.Lock()
	assert.Len(t, env.render.errors, 2)
	env.render.mu.Unlock()
}

func TestRunner_FailedUpdateKeepsOldRecords(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t)
	path := env.write("a.txt", "first version")
	env.run()

	// When: its new content cannot be embedded
	require.NoError(t, os.WriteFile(path, []byte("POISON second version"), 0o644))
	touchLater(t, path)
	stats := env.run()

	// Then: the failure is counted and the old content remains searchable
	assert.Equal(t, 1, stats.Failed)
	ids, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	rec, err := env.stores.Metadata.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Contains(t, rec.Snippet, "first version")
}

func TestRunner_FailedVectorWriteKeepsOldVersion(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t)
	path := env.write("a.txt", "first version")
	env.run()

	// When: the new content embeds to vectors the index rejects
	require.NoError(t, os.WriteFile(path, []byte("BADDIM second version"), 0o644))
	touchLater(t, path)
	stats := env.run()

	// Then: the old version survives in both stores
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"a.txt"}, env.indexedPaths())
	ids, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	rec, err := env.stores.Metadata.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Contains(t, rec.Snippet, "first version")
	assert.True(t, env.stores.Vectors.Contains(ids[0]))
	env.requireConsistent()
}

func TestRunner_EmptiedFileDropsRecords(t *testing.T) {
	env := newTestEnv(t)
	path := env.write("a.txt", "some words")
	env.run()

	require.NoError(t, os.WriteFile(path, []byte("   \n"), 0o644))
	touchLater(t, path)
	stats := env.run()

	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, env.indexedPaths())
	env.requireConsistent()
}

func TestRunner_CancellationDrains(t *testing.T) {
	// Given: a root with many files and one chunk per batch
	env := newTestEnv(t, func(c *config.Config) {
		c.Embeddings.BatchSize = 1
	})
	const total = 20
	for i := 0; i < total; i++ {
		env.write(fmt.Sprintf("f%02d.txt", i), fmt.Sprintf("document number %d", i))
	}

	// When: the run is cancelled during the first embedding batch
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.emb.(*hookEmbedder).onBatch = func(n int32) {
		if n == 1 {
			cancel()
		}
	}
	stats, err := env.runner.Run(ctx, []string{env.root})

	// Then: the run reports an abort, in-flight work is committed and
	// the stores stay consistent
	require.NoError(t, err)
	assert.True(t, stats.Aborted)
	assert.GreaterOrEqual(t, stats.Indexed, 1)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, StateIdle, env.runner.State())
	env.requireConsistent()

	// And: a second run finishes the job
	env.emb.(*hookEmbedder).onBatch = nil
	second := env.run()
	assert.False(t, second.Aborted)
	assert.Equal(t, total, stats.Indexed+second.Indexed)
	assert.Len(t, env.indexedPaths(), total)
}

func TestRunner_InvalidRoot(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.runner.Run(context.Background(), []string{filepath.Join(env.root, "missing")})
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeInvalidRoot, serrors.GetCode(err))

	file := env.write("plain.txt", "x")
	_, err = env.runner.Run(context.Background(), []string{file})
	assert.Equal(t, serrors.ErrCodeInvalidRoot, serrors.GetCode(err))

	_, err = env.runner.Run(context.Background(), nil)
	assert.Equal(t, serrors.ErrCodeInvalidRoot, serrors.GetCode(err))
}

func TestRunner_RecoversLostVectorIndex(t *testing.T) {
	// Given: an indexed root whose vector file is lost
	env := newTestEnv(t)
	env.write("a.txt", "alpha")
	env.write("b.txt", "beta")
	env.run()
	ids, err := env.stores.Metadata.AllRecordIDs(context.Background())
	require.NoError(t, err)

	require.NoError(t, env.stores.Close())
	env.stores = nil
	require.NoError(t, os.Remove(VectorPath(env.dataDir)))

	// When: reopening
	env.open()

	// Then: vectors are rebuilt from stored embeddings
	assert.Equal(t, len(ids), env.stores.Vectors.Count())
	env.requireConsistent()
}

func TestRunner_RecoversCorruptVectorIndex(t *testing.T) {
	env := newTestEnv(t)
	env.write("a.txt", "alpha")
	env.run()

	require.NoError(t, env.stores.Close())
	env.stores = nil
	require.NoError(t, os.WriteFile(VectorPath(env.dataDir), []byte("garbage"), 0o644))

	env.open()

	assert.Equal(t, 1, env.stores.Vectors.Count())
	env.requireConsistent()
}

func TestRunner_ReconcilesOrphanVectors(t *testing.T) {
	// Given: a vector with no metadata record, persisted
	env := newTestEnv(t)
	env.write("a.txt", "alpha")
	env.run()
	vec, err := env.emb.Embed(context.Background(), "stray")
	require.NoError(t, err)
	require.NoError(t, env.stores.Vectors.Add(context.Background(), []uint64{999999}, [][]float32{vec}))
	require.NoError(t, env.stores.Persist())

	// When: reopening
	env.reopen()

	// Then: the orphan is gone
	assert.False(t, env.stores.Vectors.Contains(999999))
	env.requireConsistent()
}

func TestRunner_Sync(t *testing.T) {
	// Given: an indexed root
	env := newTestEnv(t)
	a := env.write("a.txt", "alpha")
	env.write("dir/b.txt", "beta")
	env.write("dir/c.txt", "gamma")
	env.run()

	// When: one file changes and a new one appears
	require.NoError(t, os.WriteFile(a, []byte("alpha revised"), 0o644))
	env.write("d.txt", "delta")
	stats, err := env.runner.Sync(context.Background(), env.root, []string{"a.txt", "d.txt"})
	require.NoError(t, err)

	// Then: both are applied
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Indexed)

	// When: a file and a whole directory vanish
	require.NoError(t, os.Remove(a))
	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "dir")))
	stats, err = env.runner.Sync(context.Background(), env.root, []string{"a.txt", "dir"})
	require.NoError(t, err)

	// Then: everything under them is removed
	assert.Equal(t, 3, stats.Deleted)
	assert.Equal(t, []string{"d.txt"}, env.indexedPaths())
	env.requireConsistent()
}

func TestRunner_SyncIgnoresExcludedPath(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Paths.Exclude = []string{"*.tmp"}
	})
	env.write("scratch.tmp", "temporary")

	stats, err := env.runner.Sync(context.Background(), env.root, []string{"scratch.tmp"})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Indexed)
	assert.Empty(t, env.indexedPaths())
}

func TestOpenWriter_Locked(t *testing.T) {
	// Given: an open writer
	env := newTestEnv(t)

	// When: a second writer opens the same directory
	_, err := OpenWriter(context.Background(), env.dataDir, env.emb, false)

	// Then: it fails fast with ERR_105
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeIndexLocked, serrors.GetCode(err))

	// And: succeeds once the first closes
	require.NoError(t, env.stores.Close())
	env.stores = nil
	s, err := OpenWriter(context.Background(), env.dataDir, env.emb, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenWriter_Force(t *testing.T) {
	env := newTestEnv(t)
	env.write("a.txt", "alpha")
	env.run()
	require.NoError(t, env.stores.Close())
	env.stores = nil

	s, err := OpenWriter(context.Background(), env.dataDir, env.emb, true)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	files, err := s.Metadata.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, 0, s.Vectors.Count())
}

// otherModel reports a different model with the same dimension.
type otherModel struct{ *embed.StaticEmbedder }

func (otherModel) ModelName() string { return "other-model" }

func TestOpenStores_ModelMismatch(t *testing.T) {
	// Given: an index built with the static embedder
	env := newTestEnv(t)
	env.write("a.txt", "alpha")
	env.run()
	require.NoError(t, env.stores.Close())
	env.stores = nil

	// When: opening it with a different model
	_, err := OpenStores(context.Background(), env.dataDir, otherModel{embed.NewStaticEmbedder()})

	// Then: ERR_403 asks for a rebuild
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeSchemaMismatch, serrors.GetCode(err))
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(Dependencies{})
	require.Error(t, err)

	_, err = NewRunner(Dependencies{Stores: &Stores{}})
	require.Error(t, err)
}

func TestStageFor(t *testing.T) {
	assert.Equal(t, ui.StageWalking, stageFor(StateWalking))
	assert.Equal(t, ui.StageEmbedding, stageFor(StateEmbedding))
	assert.Equal(t, ui.StageDraining, stageFor(StateDraining))
	assert.Equal(t, ui.StageComplete, stageFor(StateIdle))
}
