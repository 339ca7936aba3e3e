package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/exclude"
)

// Scanner walks directory trees. It holds no per-walk state, so one
// Scanner serves any number of sequential or concurrent walks.
type Scanner struct{}

// New creates a new Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan starts a walk of opts.RootDir and streams results on the returned
// channel, which is closed when the walk ends or ctx is cancelled. Entries
// are visited in lexical order, so two walks over an unchanged tree yield
// the same sequence. Unreadable entries are reported as ScanResult.Error
// and the walk continues.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	root := opts.RootDir
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeInvalidRoot, "failed to resolve root", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("cannot stat root %s", absRoot), err)
	}
	if !info.IsDir() {
		return nil, serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("root is not a directory: %s", absRoot), nil)
	}

	w := &walk{
		root:    absRoot,
		opts:    opts,
		matcher: opts.Matcher,
		maxSize: opts.MaxFileSize,
	}
	if w.matcher == nil {
		w.matcher = exclude.New(absRoot, opts.Policy)
	}
	if w.maxSize <= 0 {
		w.maxSize = DefaultMaxFileSize
	}

	buf := opts.BufferSize
	if buf <= 0 {
		buf = 64
	}
	results := make(chan ScanResult, buf)

	go func() {
		defer close(results)
		w.run(ctx, results)
	}()

	return results, nil
}

// Describe builds a FileInfo for one path under root, applying the same
// exclusion and size rules as Scan. It returns nil, nil for a path that
// is excluded, oversized, or not a regular file. Used by watch mode.
func (s *Scanner) Describe(opts *ScanOptions, rel string) (*FileInfo, error) {
	absRoot, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, err
	}
	w := &walk{root: absRoot, opts: opts, matcher: opts.Matcher, maxSize: opts.MaxFileSize}
	if w.matcher == nil {
		w.matcher = exclude.New(absRoot, opts.Policy)
	}
	if w.maxSize <= 0 {
		w.maxSize = DefaultMaxFileSize
	}

	rel = filepath.ToSlash(filepath.Clean(rel))
	dir := filepath.Dir(rel)
	for _, anc := range ancestors(dir) {
		if w.matcher.Excluded(anc, true) {
			return nil, nil
		}
		if err := w.matcher.LoadIgnoreFiles(anc); err != nil {
			return nil, err
		}
	}
	if opts.MaxDepth > 0 && strings.Count(rel, "/") >= opts.MaxDepth {
		return nil, nil
	}

	abs := filepath.Join(absRoot, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	return w.describe(abs, rel, fs.FileInfoToDirEntry(info))
}

// ancestors returns "", "a", "a/b" for "a/b".
func ancestors(dir string) []string {
	out := []string{""}
	if dir == "." || dir == "" {
		return out
	}
	parts := strings.Split(dir, "/")
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

type walk struct {
	root    string
	opts    *ScanOptions
	matcher *exclude.Matcher
	maxSize int64
}

func (w *walk) skip(rel, reason string) {
	if w.opts.OnSkip != nil {
		w.opts.OnSkip(rel, reason)
	}
}

func (w *walk) run(ctx context.Context, results chan<- ScanResult) {
	emit := func(r ScanResult) error {
		select {
		case results <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			slog.Debug("scan_entry_error", slog.String("path", rel), slog.String("error", walkErr.Error()))
			code := serrors.ErrCodeExtraction
			if os.IsPermission(walkErr) {
				code = serrors.ErrCodePermission
			}
			if err := emit(ScanResult{Error: serrors.New(code, walkErr.Error(), walkErr).WithDetail("path", rel)}); err != nil {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if rel == "." {
				rel = ""
			} else {
				if r := w.matcher.Reason(rel, true); r != exclude.ReasonNone {
					w.skip(rel+"/", r.String())
					return filepath.SkipDir
				}
				if w.opts.MaxDepth > 0 && strings.Count(rel, "/")+1 >= w.opts.MaxDepth {
					w.skip(rel+"/", "max_depth")
					return filepath.SkipDir
				}
			}
			if err := w.matcher.LoadIgnoreFiles(rel); err != nil {
				slog.Warn("ignore_file_unreadable", slog.String("dir", rel), slog.String("error", err.Error()))
			}
			return nil
		}

		fi, err := w.describe(path, rel, d)
		if err != nil {
			return emit(ScanResult{Error: err})
		}
		if fi == nil {
			return nil
		}
		return emit(ScanResult{File: fi})
	})

	if err != nil && ctx.Err() == nil {
		_ = emit(ScanResult{Error: err})
	}
}

// describe applies file-level rules and, unless deferred, sniffs the type.
// nil, nil means skipped.
func (w *walk) describe(path, rel string, d fs.DirEntry) (*FileInfo, error) {
	if r := w.matcher.Reason(rel, false); r != exclude.ReasonNone {
		w.skip(rel, r.String())
		return nil, nil
	}

	var info fs.FileInfo
	var err error
	if d.Type()&fs.ModeSymlink != 0 {
		if !w.opts.FollowSymlinks {
			w.skip(rel, "symlink")
			return nil, nil
		}
		info, err = os.Stat(path)
	} else {
		info, err = d.Info()
	}
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeExtraction, err.Error(), err).WithDetail("path", rel)
	}
	if !info.Mode().IsRegular() {
		w.skip(rel, "not_regular")
		return nil, nil
	}
	if info.Size() > w.maxSize {
		w.skip(rel, "too_large")
		return nil, nil
	}

	fi := &FileInfo{
		Path:    rel,
		AbsPath: path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if w.opts.DeferDetect {
		return fi, nil
	}
	if err := fi.Detect(); err != nil {
		return nil, err
	}
	return fi, nil
}
