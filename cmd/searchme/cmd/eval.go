package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/query"
	"github.com/Aman-CERP/searchme/internal/validation"
)

func newEvalCmd() *cobra.Command {
	var (
		limit      int
		minPass    float64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "eval SUITE.yaml",
		Short: "Check retrieval quality against known questions",
		Long: `Run every query of a YAML suite against the index and report which ones
return their expected files within the top results.

Tier 1 queries must pass: the command fails when their pass rate is below
--min-pass. Tier 2 results are informational and negative queries only
have to complete without error. Eval queries are not recorded in the
query statistics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := validation.LoadSuite(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(".")
			if err != nil {
				return err
			}
			r, err := openReader(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			engine, err := query.New(r.embedder, r.stores.Vectors, r.stores.Metadata,
				query.WithConfig(query.ConfigFrom(cfg.Query)))
			if err != nil {
				return err
			}

			res := validation.NewValidator(engine, r.embedder.ModelName(), limit).RunAll(cmd.Context(), suite)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printEval(cmd.OutOrStdout(), res)
			}

			if rate := res.Tier1.PassRate(); rate < minPass {
				return fmt.Errorf("tier 1 pass rate %.0f%% is below %.0f%%", rate, minPass)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Results checked per query")
	cmd.Flags().Float64Var(&minPass, "min-pass", 50, "Minimum tier 1 pass rate in percent")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

func printEval(w io.Writer, res *validation.Result) {
	tiers := []struct {
		name string
		tier validation.TierResult
	}{
		{"Tier 1", res.Tier1},
		{"Tier 2", res.Tier2},
		{"Negative", res.Negative},
	}
	for _, t := range tiers {
		if t.tier.Total == 0 {
			continue
		}
		printf(w, "%s\n", t.name)
		for _, r := range t.tier.Results {
			mark := "✓"
			if !r.Passed {
				mark = "✗"
			}
			name := r.Spec.ID
			if r.Spec.Name != "" {
				name += " " + r.Spec.Name
			}
			switch {
			case r.Error != "":
				printf(w, "  %s %s: %s\n", mark, name, r.Error)
			case r.MatchedAt >= 0:
				printf(w, "  %s %s (rank %d)\n", mark, name, r.MatchedAt+1)
			default:
				printf(w, "  %s %s\n", mark, name)
			}
		}
	}
	_, _ = fmt.Fprintf(w, "\nTier 1: %d/%d  Tier 2: %d/%d  Negative: %d/%d  (%s, top %d)\n",
		res.Tier1.Passed, res.Tier1.Total,
		res.Tier2.Passed, res.Tier2.Total,
		res.Negative.Passed, res.Negative.Total,
		res.Embedder, res.Limit)
}
