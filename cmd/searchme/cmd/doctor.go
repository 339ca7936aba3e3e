package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/config"
	"github.com/Aman-CERP/searchme/internal/embed"
	"github.com/Aman-CERP/searchme/internal/preflight"
	"github.com/Aman-CERP/searchme/internal/ui"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor [path]",
		Short: "Check that this machine can build and query an index",
		Long: `Run the system checks: free disk space and write access for the data
directory, read access to the directory to index, the open file limit, and
whether Ollama serves the embedding and chat models.

Missing models are warnings; searchme falls back to offline embeddings
and plain result lists.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return runDoctor(cmd, root, jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks")
	return cmd
}

func runDoctor(cmd *cobra.Command, root string, jsonOutput, verbose bool) error {
	abs, err := config.ResolveRoot(root)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(abs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	checker := preflight.New(
		preflight.WithOutput(out),
		preflight.WithVerbose(verbose),
		preflight.WithNoColor(ui.DetectNoColor() || !ui.IsTTY(out)),
		preflight.WithProbe(embedderProbe(cfg)),
		preflight.WithProbe(llmProbe(cfg)),
	)
	results := checker.RunAll(cmd.Context(), preflight.Target{DataDir: cfg.Index.DataDir, Root: abs})

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		checker.Report(results)
		if last, ok := preflight.LastPass(cfg.Index.DataDir); ok && verbose {
			_, _ = fmt.Fprintf(out, "\nLast passed %s (%s)\n", humanize.Time(last.At), last.Version)
		}
	}

	if r, failed := preflight.FirstCritical(results); failed {
		return fmt.Errorf("%s: %s", r.Name, r.Message)
	}
	if err := preflight.MarkPassed(cfg.Index.DataDir, abs); err != nil {
		return fmt.Errorf("record passing check: %w", err)
	}
	return nil
}

func embedderProbe(cfg *config.Config) preflight.Probe {
	return preflight.Probe{
		Name: "embedder",
		Hint: "Install the model with 'ollama pull " + cfg.Embeddings.Model + "' or set embeddings.provider: static",
		Check: func(ctx context.Context) (string, error) {
			e, err := newEmbedder(ctx, cfg)
			if err != nil {
				return "", err
			}
			defer func() { _ = e.Close() }()

			info := embed.GetInfo(ctx, e)
			msg := fmt.Sprintf("%s %s (%d dims)", info.Provider, info.Model, info.Dimensions)
			if info.Provider == embed.ProviderStatic && cfg.Embeddings.Provider != "static" {
				return "", fmt.Errorf("ollama unavailable, using offline embeddings (%s)", msg)
			}
			return msg, nil
		},
	}
}

func llmProbe(cfg *config.Config) preflight.Probe {
	return preflight.Probe{
		Name: "llm",
		Hint: "Start Ollama with 'ollama serve' and run 'ollama pull " + cfg.LLM.Model + "'",
		Check: func(ctx context.Context) (string, error) {
			c := newBackend(cfg)
			if !c.Available(ctx) {
				return "", fmt.Errorf("%s not reachable at %s", c.ModelName(), c.Host())
			}
			return fmt.Sprintf("%s at %s", c.ModelName(), c.Host()), nil
		},
	}
}
