package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/logging"
	"github.com/Aman-CERP/searchme/internal/ui"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View searchme log files",
		Long: `Show recent entries of the searchme log file.

By default, shows the last 50 lines. Use -f to follow new entries.

Examples:
  searchme logs                    # Show last 50 lines
  searchme logs -n 100             # Show last 100 lines
  searchme logs -f                 # Follow logs in real-time
  searchme logs --level warn       # Show only warnings and errors
  searchme logs --filter ERR_201   # Show only matching lines`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only show lines containing this text")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file to read (default ~/.searchme/logs/searchme.log)")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.Resolve(opts.file)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Grep:    opts.filter,
		NoColor: opts.noColor || ui.DetectNoColor() || !ui.IsTTY(out),
	}, out)

	stderr := cmd.ErrOrStderr()
	if !quietMode {
		_, _ = fmt.Fprintf(stderr, "Log file: %s\n", path)
		if opts.follow {
			_, _ = fmt.Fprintln(stderr, "Following... (Ctrl+C to stop)")
		}
		_, _ = fmt.Fprintln(stderr, "---")
	}

	if !opts.follow {
		entries, err := viewer.Tail(path, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return viewer.Follow(ctx, path)
}
