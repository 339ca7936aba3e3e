// Package index runs the indexing pipeline and keeps the vector index and the
// metadata store consistent with each other.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchme/internal/config"
	"github.com/Aman-CERP/searchme/internal/embed"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/exclude"
	"github.com/Aman-CERP/searchme/internal/extract"
	"github.com/Aman-CERP/searchme/internal/scanner"
	"github.com/Aman-CERP/searchme/internal/store"
	"github.com/Aman-CERP/searchme/internal/ui"
)

// maxRecordedFailures bounds RunStats.Failures; Failed still counts all of them.
const maxRecordedFailures = 200

// Dependencies contains the injected dependencies for Runner.
type Dependencies struct {
	Stores   *Stores
	Embedder embed.Embedder
	Registry *extract.Registry

	// Renderer receives progress; nil discards it.
	Renderer ui.Renderer

	// Config supplies path rules and pipeline sizes; nil uses defaults.
	Config *config.Config
}

// Failure is one file that could not be indexed.
type Failure struct {
	Path string
	Err  error
}

// RunStats summarises an indexing run.
type RunStats struct {
	Scanned  int
	Indexed  int // new files
	Updated  int // changed files
	Skipped  int // excluded, unchanged, unsupported or empty
	Failed   int
	Deleted  int
	Chunks   int
	Bytes    int64
	Duration time.Duration
	Aborted  bool
	Failures []Failure
}

type counters struct {
	scanned, indexed, updated, skipped, failed, deleted, chunks, bytes, queued atomic.Int64

	mu       sync.Mutex
	failures []Failure
}

func (c *counters) fail(path string, err error) {
	c.failed.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) < maxRecordedFailures {
		c.failures = append(c.failures, Failure{Path: path, Err: err})
	}
}

func (c *counters) snapshot() RunStats {
	c.mu.Lock()
	failures := append([]Failure(nil), c.failures...)
	c.mu.Unlock()
	return RunStats{
		Scanned:  int(c.scanned.Load()),
		Indexed:  int(c.indexed.Load()),
		Updated:  int(c.updated.Load()),
		Skipped:  int(c.skipped.Load()),
		Failed:   int(c.failed.Load()),
		Deleted:  int(c.deleted.Load()),
		Chunks:   int(c.chunks.Load()),
		Bytes:    c.bytes.Load(),
		Failures: failures,
	}
}

// pendingFile is a fully extracted file waiting for embeddings.
type pendingFile struct {
	info    *scanner.FileInfo
	hash    string
	doc     *extract.Document
	existed bool
	vectors [][]float32
}

// Runner executes indexing runs against one pair of stores.
// Only one run is active at a time; commits are serialized.
type Runner struct {
	stores   *Stores
	embedder embed.Embedder
	registry *extract.Registry
	renderer ui.Renderer
	cfg      *config.Config
	scanner  *scanner.Scanner

	state    stateValue
	current  atomic.Pointer[counters]
	runMu    sync.Mutex
	commitMu sync.Mutex
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps Dependencies) (*Runner, error) {
	if deps.Stores == nil {
		return nil, fmt.Errorf("stores are required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	cfg := deps.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	registry := deps.Registry
	if registry == nil {
		registry = extract.DefaultRegistry(extract.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap))
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	}

	r := &Runner{
		stores:   deps.Stores,
		embedder: deps.Embedder,
		registry: registry,
		renderer: renderer,
		cfg:      cfg,
		scanner:  scanner.New(),
	}
	r.current.Store(&counters{})
	return r, nil
}

// State returns the current pipeline state.
func (r *Runner) State() State { return r.state.Load() }

// Progress returns a snapshot of the counters of the current or last run.
func (r *Runner) Progress() RunStats { return r.current.Load().snapshot() }

// Run walks roots and brings the index in line with them.
//
// Cancelling ctx drains the pipeline: the walk stops, files already being
// extracted are finished and committed, the index is persisted, and the
// stats come back with Aborted set. Per-file failures never fail the run.
func (r *Runner) Run(ctx context.Context, roots []string) (*RunStats, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()
	c := &counters{}
	r.current.Store(c)

	absRoots, err := resolveRoots(roots)
	if err != nil {
		return nil, err
	}
	// In-flight work finishes even after ctx is cancelled.
	workCtx := context.WithoutCancel(ctx)

	known, err := r.knownFiles(workCtx)
	if err != nil {
		return nil, err
	}

	slog.Info("index_started", slog.Any("roots", absRoots), slog.Int("known_files", len(known)))
	r.state.Set(StateWalking)
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageWalking,
		Message: fmt.Sprintf("Scanning %s...", strings.Join(absRoots, ", ")),
	})

	queue := r.cfg.Index.QueueSize
	if queue <= 0 {
		queue = 256
	}
	workers := r.cfg.Index.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files := make(chan *scanner.FileInfo, queue)
	docs := make(chan *pendingFile, queue)
	seen := make(map[string]struct{})
	walked := false

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.state.Set(StateDraining)
			slog.Info("index_draining")
		case <-done:
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(files)
		for _, root := range absRoots {
			if err := r.walk(gctx, root, known, seen, files, c); err != nil {
				return err
			}
		}
		walked = gctx.Err() == nil
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			defer wg.Done()
			for fi := range files {
				if gctx.Err() != nil {
					continue
				}
				if pf := r.prepare(workCtx, fi, known[fi.AbsPath], c); pf != nil {
					docs <- pf
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(docs)
		return nil
	})
	g.Go(func() error {
		r.batch(workCtx, docs, c)
		return nil
	})

	walkErr := g.Wait()
	close(done)

	aborted := ctx.Err() != nil
	if walked && walkErr == nil && !aborted {
		r.removeMissing(workCtx, absRoots, known, seen, c)
	}

	if err := r.stores.Persist(); err != nil {
		r.state.Set(StateIdle)
		return nil, err
	}
	if !aborted && walkErr == nil {
		if err := r.stores.MarkRun(workCtx, time.Now()); err != nil {
			slog.Warn("failed to record run time", slog.String("error", err.Error()))
		}
		r.recordRoots(workCtx, absRoots)
	}
	r.state.Set(StateIdle)

	stats := c.snapshot()
	stats.Duration = time.Since(start)
	stats.Aborted = aborted

	r.renderer.Complete(r.completion(workCtx, stats))
	slog.Info("index_complete",
		slog.Int("scanned", stats.Scanned),
		slog.Int("indexed", stats.Indexed),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("deleted", stats.Deleted),
		slog.Int("chunks", stats.Chunks),
		slog.Int64("bytes", stats.Bytes),
		slog.Int64("duration_ms", stats.Duration.Milliseconds()),
		slog.Bool("aborted", stats.Aborted))

	if walkErr != nil && !aborted {
		return &stats, walkErr
	}
	return &stats, nil
}

// Sync re-examines paths under root reported by the file watcher. Paths that
// are gone or now excluded leave the index; the rest are indexed when their
// content changed.
func (r *Runner) Sync(ctx context.Context, root string, rels []string) (*RunStats, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()
	c := &counters{}
	r.current.Store(c)

	absRoots, err := resolveRoots([]string{root})
	if err != nil {
		return nil, err
	}
	root = absRoots[0]
	opts := r.ScanOptions(root)

	size := r.cfg.Embeddings.BatchSize
	if size <= 0 {
		size = embed.DefaultBatchSize
	}
	var pending []*pendingFile
	chunks := 0

	for _, rel := range rels {
		if ctx.Err() != nil {
			break
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		prev, err := r.stores.Metadata.GetFile(ctx, abs)
		if err != nil {
			return nil, err
		}

		fi, err := r.scanner.Describe(opts, rel)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.failFile(abs, err, c)
			continue
		}
		if fi == nil {
			if prev == nil {
				if err != nil {
					// A vanished directory takes its files with it.
					r.removeGoneUnder(ctx, abs, c)
				}
				continue
			}
			if err := r.remove(ctx, abs); err != nil {
				r.failFile(abs, err, c)
				continue
			}
			c.deleted.Add(1)
			continue
		}

		c.scanned.Add(1)
		pf := r.prepare(ctx, fi, prev, c)
		if pf == nil {
			continue
		}
		pending = append(pending, pf)
		chunks += len(pf.doc.Chunks)
		if chunks >= size {
			r.flush(context.WithoutCancel(ctx), pending, c)
			pending, chunks = nil, 0
		}
	}
	if len(pending) > 0 {
		r.flush(context.WithoutCancel(ctx), pending, c)
	}

	if err := r.stores.Persist(); err != nil {
		r.state.Set(StateIdle)
		return nil, err
	}
	r.state.Set(StateIdle)

	stats := c.snapshot()
	stats.Duration = time.Since(start)
	stats.Aborted = ctx.Err() != nil
	return &stats, nil
}

func resolveRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, serrors.New(serrors.ErrCodeInvalidRoot, "no root to index", nil)
	}
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeInvalidRoot, "failed to resolve root", err).WithDetail("root", root)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("cannot stat root %s", abs), err)
		}
		if !info.IsDir() {
			return nil, serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("root is not a directory: %s", abs), nil)
		}
		out = append(out, abs)
	}
	return out, nil
}

func (r *Runner) knownFiles(ctx context.Context) (map[string]*store.FileRecord, error) {
	files, err := r.stores.Metadata.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*store.FileRecord, len(files))
	for _, f := range files {
		known[f.Path] = f
	}
	return known, nil
}

// ScanOptions returns the walker options used for root.
func (r *Runner) ScanOptions(root string) *scanner.ScanOptions {
	p := r.cfg.Paths
	return &scanner.ScanOptions{
		RootDir: root,
		Policy: exclude.Policy{
			Exclude:            p.Exclude,
			Include:            p.Include,
			SkipHidden:         p.SkipHidden,
			SkipSystem:         p.SkipSystem,
			RespectIgnoreFiles: p.RespectIgnoreFiles,
			SkipDirs:           []string{r.stores.Dir},
		},
		MaxFileSize:    p.MaxFileSize,
		MaxDepth:       p.MaxDepth,
		FollowSymlinks: p.FollowSymlinks,
		BufferSize:     r.cfg.Index.QueueSize,
	}
}

// walk streams files under root that need work into files.
func (r *Runner) walk(ctx context.Context, root string, known map[string]*store.FileRecord,
	seen map[string]struct{}, files chan<- *scanner.FileInfo, c *counters) error {

	opts := r.ScanOptions(root)
	opts.DeferDetect = true
	opts.OnSkip = func(rel, reason string) {
		if !strings.HasSuffix(rel, "/") {
			c.skipped.Add(1)
		}
	}

	results, err := r.scanner.Scan(ctx, opts)
	if err != nil {
		return err
	}

	for res := range results {
		if res.Error != nil {
			path := root
			if se, ok := serrors.As(res.Error); ok && se.Details["path"] != "" {
				path = filepath.Join(root, filepath.FromSlash(se.Details["path"]))
			}
			c.fail(path, res.Error)
			r.renderer.AddError(ui.ErrorEvent{File: path, Err: res.Error, IsWarn: true})
			continue
		}

		fi := res.File
		if _, dup := seen[fi.AbsPath]; dup {
			continue
		}
		seen[fi.AbsPath] = struct{}{}
		c.scanned.Add(1)

		if prev := known[fi.AbsPath]; prev != nil && prev.Size == fi.Size && prev.ModTime.Equal(fi.ModTime) {
			c.skipped.Add(1)
			continue
		}

		select {
		case files <- fi:
			c.queued.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// prepare hashes and extracts one file. It returns nil when the file needs no
// commit, having already counted why.
func (r *Runner) prepare(ctx context.Context, fi *scanner.FileInfo, prev *store.FileRecord, c *counters) *pendingFile {
	r.state.Advance(StateExtracting)

	if err := fi.Detect(); err != nil {
		r.failFile(fi.AbsPath, err, c)
		return nil
	}
	if !r.registry.Supports(fi.Type) {
		slog.Debug("file_unsupported", slog.String("path", fi.AbsPath), slog.String("type", string(fi.Type)))
		c.skipped.Add(1)
		return nil
	}

	hash, err := hashFile(fi.AbsPath)
	if err != nil {
		code := serrors.ErrCodeExtraction
		if os.IsPermission(err) {
			code = serrors.ErrCodePermission
		}
		r.failFile(fi.AbsPath, serrors.New(code, "failed to read file", err).WithDetail("path", fi.Path), c)
		return nil
	}

	if prev != nil && prev.ContentHash == hash {
		if err := r.stores.Metadata.TouchFile(ctx, fi.AbsPath, fi.ModTime, fi.Size); err != nil {
			slog.Warn("failed to update file mtime", slog.String("path", fi.AbsPath), slog.String("error", err.Error()))
		}
		c.skipped.Add(1)
		return nil
	}

	doc, err := r.registry.Extract(ctx, fi)
	if err != nil {
		if serrors.GetCode(err) == serrors.ErrCodeUnsupportedType {
			c.skipped.Add(1)
			return nil
		}
		r.failFile(fi.AbsPath, err, c)
		return nil
	}

	if len(doc.Chunks) == 0 {
		c.skipped.Add(1)
		if prev != nil {
			if err := r.remove(ctx, fi.AbsPath); err != nil {
				slog.Warn("failed to drop emptied file", slog.String("path", fi.AbsPath), slog.String("error", err.Error()))
			}
		}
		return nil
	}

	return &pendingFile{info: fi, hash: hash, doc: doc, existed: prev != nil}
}

func (r *Runner) failFile(path string, err error, c *counters) {
	slog.Warn("file_failed", slog.String("path", path), slog.String("error", err.Error()))
	c.fail(path, err)
	r.renderer.AddError(ui.ErrorEvent{File: path, Err: err, IsWarn: true})
}

// batch groups extracted files until BatchSize chunks are pending or
// BatchTimeout passes, then embeds and commits them.
func (r *Runner) batch(ctx context.Context, docs <-chan *pendingFile, c *counters) {
	size := r.cfg.Embeddings.BatchSize
	if size <= 0 {
		size = embed.DefaultBatchSize
	}
	timeout := r.cfg.Index.BatchTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	var pending []*pendingFile
	chunks := 0
	timer := time.NewTimer(timeout)
	timer.Stop()
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		r.flush(ctx, pending, c)
		pending = nil
		chunks = 0
	}

	for {
		select {
		case pf, ok := <-docs:
			if !ok {
				flush()
				return
			}
			if len(pending) == 0 {
				timer.Reset(timeout)
			}
			pending = append(pending, pf)
			chunks += len(pf.doc.Chunks)
			if chunks >= size {
				timer.Stop()
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

// flush embeds every chunk of files in one call. When a multi-file batch
// fails, each file is retried alone so one bad file cannot sink the others.
func (r *Runner) flush(ctx context.Context, files []*pendingFile, c *counters) {
	r.state.Advance(StateEmbedding)

	var texts []string
	for _, pf := range files {
		for _, ch := range pf.doc.Chunks {
			texts = append(texts, ch.Text)
		}
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if len(files) > 1 {
			slog.Debug("batch_embed_failed_isolating", slog.Int("files", len(files)), slog.String("error", err.Error()))
			for _, pf := range files {
				r.flush(ctx, []*pendingFile{pf}, c)
			}
			return
		}
		r.failFile(files[0].info.AbsPath, err, c)
		return
	}

	offset := 0
	for _, pf := range files {
		n := len(pf.doc.Chunks)
		pf.vectors = vectors[offset : offset+n]
		offset += n
		r.commit(ctx, pf, c)
	}
}

// commit writes one file to both stores, or to neither.
func (r *Runner) commit(ctx context.Context, pf *pendingFile, c *counters) {
	r.state.Advance(StateCommitting)

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	fi := pf.info
	records := make([]*store.Record, len(pf.doc.Chunks))
	for i, ch := range pf.doc.Chunks {
		records[i] = &store.Record{
			Ordinal:   ch.Ordinal,
			Section:   ch.Section,
			Snippet:   ch.Text,
			Embedding: pf.vectors[i],
		}
	}
	file := &store.FileRecord{
		Path:        fi.AbsPath,
		Size:        fi.Size,
		ModTime:     fi.ModTime,
		ContentHash: pf.hash,
		Type:        string(fi.Type),
		MIME:        fi.MIME,
		Attributes:  pf.doc.Attributes,
		IndexedAt:   time.Now(),
	}

	// Vectors go in while the metadata transaction is still open, so a
	// failure on either side leaves the previous version of the file intact.
	var staged []uint64
	_, removed, err := r.stores.Metadata.ReplaceFileStaged(ctx, file, records, func(added, _ []uint64) error {
		staged = added
		return r.stores.Vectors.Add(ctx, added, pf.vectors)
	})
	if err != nil {
		// Rolled-back IDs may be handed out again.
		if dErr := r.stores.Vectors.Delete(ctx, staged); dErr != nil {
			slog.Error("vector rollback failed", slog.String("path", fi.AbsPath), slog.String("error", dErr.Error()))
		}
		r.failFile(fi.AbsPath, err, c)
		return
	}
	if err := r.stores.Vectors.Delete(ctx, removed); err != nil {
		slog.Warn("failed to drop replaced vectors", slog.String("path", fi.AbsPath), slog.String("error", err.Error()))
	}

	if pf.existed {
		c.updated.Add(1)
	} else {
		c.indexed.Add(1)
	}
	c.chunks.Add(int64(len(records)))
	c.bytes.Add(fi.Size)

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       stageFor(r.state.Load()),
		Current:     int(c.indexed.Load() + c.updated.Load()),
		Total:       int(c.queued.Load()),
		CurrentFile: fi.Path,
	})
}

// remove deletes path from both stores.
func (r *Runner) remove(ctx context.Context, path string) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	removed, err := r.stores.Metadata.DeleteFile(ctx, path)
	if err != nil {
		return err
	}
	return r.stores.Vectors.Delete(ctx, removed)
}

// removeMissing deletes files under roots that the walk no longer yields.
func (r *Runner) removeMissing(ctx context.Context, roots []string, known map[string]*store.FileRecord,
	seen map[string]struct{}, c *counters) {

	for path := range known {
		if _, ok := seen[path]; ok || !underAny(path, roots) {
			continue
		}
		if err := r.remove(ctx, path); err != nil {
			r.failFile(path, err, c)
			continue
		}
		slog.Debug("file_removed", slog.String("path", path))
		c.deleted.Add(1)
	}
}

// removeGoneUnder deletes indexed files below dir that no longer exist.
func (r *Runner) removeGoneUnder(ctx context.Context, dir string, c *counters) {
	files, err := r.stores.Metadata.ListFiles(ctx)
	if err != nil {
		slog.Warn("failed to list indexed files", slog.String("error", err.Error()))
		return
	}
	for _, f := range files {
		if !underAny(f.Path, []string{dir}) {
			continue
		}
		if _, err := os.Stat(f.Path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := r.remove(ctx, f.Path); err != nil {
			r.failFile(f.Path, err, c)
			continue
		}
		c.deleted.Add(1)
	}
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Roots returns every root recorded by previous runs.
func Roots(ctx context.Context, meta store.MetadataStore) []string {
	v, err := meta.GetState(ctx, store.StateKeyRoots)
	if err != nil || v == "" {
		return nil
	}
	return strings.Split(v, "\n")
}

func (r *Runner) recordRoots(ctx context.Context, roots []string) {
	set := make(map[string]struct{})
	for _, root := range append(Roots(ctx, r.stores.Metadata), roots...) {
		set[root] = struct{}{}
	}
	all := make([]string, 0, len(set))
	for root := range set {
		all = append(all, root)
	}
	sort.Strings(all)
	if err := r.stores.Metadata.SetState(ctx, store.StateKeyRoots, strings.Join(all, "\n")); err != nil {
		slog.Warn("failed to record roots", slog.String("error", err.Error()))
	}
}

func (r *Runner) completion(ctx context.Context, s RunStats) ui.CompletionStats {
	info := embed.GetInfo(ctx, r.embedder)
	return ui.CompletionStats{
		Scanned:  s.Scanned,
		Indexed:  s.Indexed,
		Updated:  s.Updated,
		Skipped:  s.Skipped,
		Failed:   s.Failed,
		Deleted:  s.Deleted,
		Chunks:   s.Chunks,
		Bytes:    s.Bytes,
		Duration: s.Duration,
		Aborted:  s.Aborted,
		Embedder: ui.EmbedderInfo{
			Backend:    info.Provider.String(),
			Model:      info.Model,
			Dimensions: info.Dimensions,
		},
	}
}

func stageFor(s State) ui.Stage {
	switch s {
	case StateWalking:
		return ui.StageWalking
	case StateExtracting:
		return ui.StageExtracting
	case StateEmbedding:
		return ui.StageEmbedding
	case StateCommitting:
		return ui.StageCommitting
	case StateDraining:
		return ui.StageDraining
	default:
		return ui.StageComplete
	}
}

// hashFile returns the hex sha256 of the file content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
