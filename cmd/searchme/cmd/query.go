package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/llm"
	"github.com/Aman-CERP/searchme/internal/query"
)

func newQueryCmd() *cobra.Command {
	var (
		text     string
		topK     int
		noLLM    bool
		noStream bool
	)

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask one question about your indexed files",
		Long: `Ask one question and print the answer.

The most relevant chunks are retrieved from the index and handed to the
local language model. If the model is not running, the matching files are
listed instead.

  searchme query "when does my passport expire"
  searchme query --quiet --query "total of the March invoice"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.TrimSpace(strings.Join(append([]string{text}, args...), " "))
			if q == "" {
				return fmt.Errorf("a question is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runQuery(ctx, cmd, q, topK, !noLLM, !noStream)
		},
	}

	cmd.Flags().StringVarP(&text, "query", "Q", "", "Question to ask (alternative to the positional argument)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")
	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "Skip the language model and list matching files")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print the answer only when it is complete")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, q string, topK int, withLLM, stream bool) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}
	r, err := openReader(ctx, cfg, withLLM)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	out := cmd.OutOrStdout()
	if stream && cfg.LLM.Stream {
		st, err := r.engine.QueryStream(ctx, q, nil, topK)
		if err != nil {
			return noContent(out, err)
		}
		if _, err := printStream(out, st.Fragments); err != nil {
			return err
		}
		printSources(out, st.Result.Hits, st.Fallback)
		return nil
	}

	ans, err := r.engine.Query(ctx, q, nil, topK)
	if err != nil {
		return noContent(out, err)
	}
	_, _ = fmt.Fprintln(out, ans.Text)
	printSources(out, ans.Hits, ans.Fallback)
	return nil
}

// printStream copies fragments to w as they arrive and returns the full
// reply. A failed stream is ended with a newline before the error returns.
func printStream(w io.Writer, frags <-chan llm.Fragment) (string, error) {
	var b strings.Builder
	for f := range frags {
		if f.Err != nil {
			_, _ = fmt.Fprintln(w)
			return "", f.Err
		}
		b.WriteString(f.Text)
		_, _ = io.WriteString(w, f.Text)
		if f.Done {
			break
		}
	}
	_, _ = fmt.Fprintln(w)
	return b.String(), nil
}

// printSources lists the files behind a model answer.
func printSources(w io.Writer, hits []query.Hit, fallback bool) {
	if fallback || quietMode || len(hits) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nSources:")
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if seen[h.Record.Path] {
			continue
		}
		seen[h.Record.Path] = true
		_, _ = fmt.Fprintf(w, "  • %s (%.2f)\n", h.Record.Path, h.Score)
	}
}

// noContent turns an empty result into a message instead of a failure.
func noContent(w io.Writer, err error) error {
	if errors.Is(err, query.ErrNoRelevantContent) {
		_, _ = fmt.Fprintln(w, "No matching files found.")
		return nil
	}
	return err
}

func newSearchCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find the files most similar to a description",
		Long: `Search the index without the language model and list matching files
with their scores and a preview.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

// SearchResultJSON is one line of `search --json` output.
type SearchResultJSON struct {
	Path       string            `json:"path"`
	Score      float32           `json:"score"`
	Section    string            `json:"section,omitempty"`
	Type       string            `json:"type,omitempty"`
	Snippet    string            `json:"snippet"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func runSearch(ctx context.Context, cmd *cobra.Command, text string, limit int, jsonOutput bool) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}
	r, err := openReader(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	out := cmd.OutOrStdout()
	res, err := r.engine.Retrieve(ctx, text, limit)
	if err != nil && !errors.Is(err, query.ErrNoRelevantContent) {
		return err
	}
	var hits []query.Hit
	if res != nil {
		hits = res.Hits
	}

	if jsonOutput {
		results := make([]SearchResultJSON, 0, len(hits))
		for _, h := range hits {
			rec := h.Record
			results = append(results, SearchResultJSON{
				Path: rec.Path, Score: h.Score, Section: rec.Section,
				Type: rec.Type, Snippet: rec.Snippet, Attributes: rec.Attributes,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	_, _ = fmt.Fprintln(out, query.FormatFallback(hits))
	return nil
}
