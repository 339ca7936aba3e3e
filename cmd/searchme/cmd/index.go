package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/config"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/index"
	"github.com/Aman-CERP/searchme/internal/preflight"
	"github.com/Aman-CERP/searchme/internal/ui"
)

// maxListedFailures bounds the failures printed after a run.
const maxListedFailures = 10

type indexOptions struct {
	force      bool
	watch      bool
	noTUI      bool
	system     bool
	home       bool
	skipHidden bool
	timeout    time.Duration
	exclude    []string
	include    []string
	maxSize    string
	maxDepth   int
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory so its files can be searched and asked about.

Files are walked in parallel, their text and metadata are extracted,
split into chunks, embedded and stored. Unchanged files are skipped, so
running it again only processes what changed. Files that disappeared are
removed from the index.

  searchme index                 index the current directory
  searchme index ~/Documents     index a directory
  searchme index --home          index your home directory
  searchme index --system        index the whole file system
  searchme index --watch         keep the index up to date

Use --force to clear the existing index and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.force, "force", false, "Clear the existing index and rebuild from scratch")
	f.BoolVar(&opts.watch, "watch", false, "Keep running and index changes as they happen")
	f.BoolVar(&opts.noTUI, "no-tui", false, "Disable the interactive progress display")
	f.BoolVar(&opts.system, "system", false, "Index the whole file system (/) skipping system directories")
	f.BoolVar(&opts.home, "home", false, "Index your home directory")
	f.BoolVar(&opts.skipHidden, "skip-hidden", false, "Skip hidden files and directories")
	f.DurationVar(&opts.timeout, "timeout", 0, "Stop the run after this long (0 = no limit)")
	f.StringArrayVar(&opts.exclude, "exclude", nil, "Glob pattern to exclude (repeatable)")
	f.StringArrayVar(&opts.include, "include", nil, "Glob pattern to include; when set only matches are indexed (repeatable)")
	f.StringVar(&opts.maxSize, "max-size", "", "Skip files larger than this, e.g. 20MB")
	f.IntVar(&opts.maxDepth, "max-depth", 0, "Maximum directory depth (0 = unlimited)")
	cmd.MarkFlagsMutuallyExclusive("system", "home")

	return cmd
}

// indexRoot picks the directory to index from the arguments and flags.
func indexRoot(args []string, opts indexOptions) (string, error) {
	switch {
	case len(args) > 0 && (opts.system || opts.home):
		return "", serrors.New(serrors.ErrCodeInvalidRoot, "a path cannot be combined with --system or --home", nil)
	case opts.system:
		return "/", nil
	case opts.home:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", serrors.New(serrors.ErrCodeInvalidRoot, "cannot determine home directory", err)
		}
		return home, nil
	case len(args) > 0:
		return args[0], nil
	default:
		return ".", nil
	}
}

// checkSystem runs the required preflight checks the first time a data
// directory is used by this version, and on every forced rebuild.
func checkSystem(dataDir, root string, rebuild bool) error {
	if rebuild {
		if err := preflight.ClearMarker(dataDir); err != nil {
			return err
		}
	}
	if !preflight.NeedsCheck(dataDir) {
		return nil
	}
	results := preflight.New().RunRequired(preflight.Target{DataDir: dataDir, Root: root})
	if r, failed := preflight.FirstCritical(results); failed {
		code := serrors.ErrCodeConfigInvalid
		if r.Name == "root_readable" {
			code = serrors.ErrCodeInvalidRoot
		}
		se := serrors.New(code, fmt.Sprintf("preflight check %s failed: %s", r.Name, r.Message), nil)
		if r.Hint != "" {
			se = se.WithDetail("hint", r.Hint)
		}
		return se.WithSuggestion("Run 'searchme doctor' for a full report")
	}
	if err := preflight.MarkPassed(dataDir, root); err != nil {
		slog.Warn("preflight_marker_failed", slog.String("error", err.Error()))
	}
	return nil
}

// applyIndexFlags layers command line path rules over the loaded config.
func applyIndexFlags(cfg *config.Config, opts indexOptions) error {
	p := &cfg.Paths
	p.Exclude = append(p.Exclude, opts.exclude...)
	p.Include = append(p.Include, opts.include...)
	if opts.skipHidden {
		p.SkipHidden = true
	}
	if opts.system {
		p.SkipSystem = true
	}
	if opts.maxDepth > 0 {
		p.MaxDepth = opts.maxDepth
	}
	if opts.maxSize != "" {
		n, err := humanize.ParseBytes(opts.maxSize)
		if err != nil {
			return serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf("invalid --max-size %q", opts.maxSize), err).
				WithSuggestion("use a size such as 500KB, 20MB or 1GiB")
		}
		p.MaxFileSize = int64(n)
	}
	return cfg.Validate()
}

func runIndex(ctx context.Context, cmd *cobra.Command, args []string, opts indexOptions) error {
	out := cmd.OutOrStdout()

	root, err := indexRoot(args, opts)
	if err != nil {
		return err
	}
	root, err = config.ResolveRoot(root)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if err := applyIndexFlags(cfg, opts); err != nil {
		return err
	}
	if err := checkSystem(cfg.Index.DataDir, root, opts.force); err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	stores, err := index.OpenWriter(ctx, cfg.Index.DataDir, embedder, opts.force)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			slog.Warn("close_stores_failed", slog.String("error", err.Error()))
		}
	}()
	if opts.force {
		printf(out, "Cleared existing index in %s\n", cfg.Index.DataDir)
	}

	var renderOut io.Writer = out
	if quietMode {
		renderOut = io.Discard
	}
	renderer := ui.NewRenderer(ui.NewConfig(renderOut,
		ui.WithForcePlain(opts.noTUI || opts.watch),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithProjectDir(root)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}

	runner, err := index.NewRunner(index.Dependencies{
		Stores:   stores,
		Embedder: embedder,
		Renderer: renderer,
		Config:   cfg,
	})
	if err != nil {
		_ = renderer.Stop()
		return err
	}

	runCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	stats, err := runner.Run(runCtx, []string{root})
	_ = renderer.Stop()
	if err != nil {
		return err
	}
	printFailures(cmd.ErrOrStderr(), stats)

	if !opts.watch || ctx.Err() != nil {
		return nil
	}

	printf(out, "\nWatching %s for changes (Ctrl+C to stop)\n", root)
	return runner.Watch(ctx, root, func(s *index.RunStats) {
		printf(out, "%s  indexed %d, updated %d, deleted %d, failed %d\n",
			time.Now().Format("15:04:05"), s.Indexed, s.Updated, s.Deleted, s.Failed)
	})
}

func printFailures(w io.Writer, stats *index.RunStats) {
	if stats == nil || len(stats.Failures) == 0 || quietMode {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d file(s) could not be indexed:\n", stats.Failed)
	for i, f := range stats.Failures {
		if i == maxListedFailures {
			_, _ = fmt.Fprintf(w, "  ... and %d more (see 'searchme logs')\n", stats.Failed-maxListedFailures)
			break
		}
		_, _ = fmt.Fprintf(w, "  %s: %s\n", f.Path, failureReason(f.Err))
	}
}

func failureReason(err error) string {
	if se, ok := serrors.As(err); ok {
		return se.Message
	}
	return err.Error()
}
