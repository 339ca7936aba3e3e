package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/config"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/index"
	"github.com/Aman-CERP/searchme/internal/store"
	"github.com/Aman-CERP/searchme/internal/telemetry"
	"github.com/Aman-CERP/searchme/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what is indexed",
		Long: `Show index statistics: indexed roots, file and chunk counts per type,
content size, storage size, last run and the embedding model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(".")
			if err != nil {
				return err
			}
			info, err := collectStatus(cmd.Context(), cfg.Index.DataDir)
			if err != nil {
				return err
			}
			probeEmbedder(cmd.Context(), cfg, info)

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
			if jsonOutput {
				return r.RenderJSON(*info)
			}
			return r.Render(*info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// collectStatus reads index statistics from dataDir without loading the
// vector graph.
func collectStatus(ctx context.Context, dataDir string) (*ui.StatusInfo, error) {
	if !index.Exists(dataDir) {
		return nil, serrors.New(serrors.ErrCodeSearchUnavailable, "no index found", index.ErrNoIndex).
			WithDetail("data_dir", dataDir).
			WithSuggestion("Build one first with: searchme index [path]")
	}

	meta, err := store.NewSQLiteStore(index.MetadataPath(dataDir))
	if err != nil {
		return nil, err
	}
	defer func() { _ = meta.Close() }()

	st, err := meta.Stats(ctx)
	if err != nil {
		return nil, err
	}

	info := &ui.StatusInfo{
		DataDir:       dataDir,
		Roots:         index.Roots(ctx, meta),
		Files:         st.Files,
		Records:       st.Records,
		Content:       st.Bytes,
		ByType:        st.ByType,
		LastIndexed:   st.LastIndexed,
		MetadataSize:  st.DBSize,
		SchemaVersion: store.CurrentSchemaVersion,
	}
	if v, _ := meta.GetState(ctx, store.StateKeyLastRun); v != "" {
		info.LastRun, _ = time.Parse(time.RFC3339, v)
	}
	if fi, err := os.Stat(index.VectorPath(dataDir)); err == nil {
		info.VectorSize = fi.Size()
	}
	info.TotalSize = info.MetadataSize + info.VectorSize

	info.EmbedderModel, _ = meta.GetState(ctx, store.StateKeyIndexModel)
	dims, _ := meta.GetState(ctx, store.StateKeyIndexDimension)
	info.Dimensions, _ = strconv.Atoi(dims)
	info.EmbedderType = "ollama"
	if info.EmbedderModel == "static" {
		info.EmbedderType = "static"
	}
	info.Queries = queryStats(dataDir)
	return info, nil
}

// queryStats loads recorded query telemetry, or nil when none exists.
func queryStats(dataDir string) *ui.QueryStats {
	path := filepath.Join(dataDir, telemetry.FileName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	st, err := telemetry.OpenSQLiteStore(path)
	if err != nil {
		slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		return nil
	}
	defer func() { _ = st.Close() }()

	snap, err := st.Load(5, 3)
	if err != nil || snap.TotalQueries == 0 {
		return nil
	}
	q := &ui.QueryStats{
		Total:       snap.TotalQueries,
		ZeroResults: snap.ZeroResultCount,
		ByKind:      make(map[string]int64, len(snap.KindCounts)),
		RecentMiss:  snap.ZeroResultQueries,
		Since:       snap.Since,
	}
	for k, n := range snap.KindCounts {
		q.ByKind[string(k)] = n
	}
	for _, b := range telemetry.Buckets {
		q.Latency = append(q.Latency, snap.LatencyDistribution[b])
	}
	for _, t := range snap.TopTerms {
		q.TopTerms = append(q.TopTerms, t.Term)
	}
	return q
}

// probeEmbedder reports whether the model the index was built with can be
// used for queries right now.
func probeEmbedder(ctx context.Context, cfg *config.Config, info *ui.StatusInfo) {
	info.EmbedderStatus = "ready"
	if info.EmbedderType == "static" || info.EmbedderModel == "" {
		return
	}
	e, err := newEmbedder(ctx, cfg)
	if err != nil {
		info.EmbedderStatus = "error"
		return
	}
	defer func() { _ = e.Close() }()
	if e.ModelName() != info.EmbedderModel {
		info.EmbedderStatus = "offline"
	}
}
