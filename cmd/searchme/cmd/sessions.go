package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved chat sessions",
		Long: `Saved conversations live under <data-dir>/sessions. Without a
subcommand the sessions are listed, most recently used first.`,
		Example: `  searchme sessions
  searchme sessions show taxes
  searchme sessions delete taxes
  searchme sessions prune --older-than=720h`,
		Args: cobra.NoArgs,
		RunE: withSessions(func(cmd *cobra.Command, mgr *session.Manager, _ []string) error {
			list, err := mgr.List()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			return printSessions(cmd.OutOrStdout(), list)
		}),
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove sessions not used recently",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return nil
		},
		RunE: withSessions(func(cmd *cobra.Command, mgr *session.Manager, _ []string) error {
			n, err := mgr.Prune(olderThan)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Pruned %d session(s)\n", n)
			return nil
		}),
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove sessions not updated within this duration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show NAME",
			Short: "Print the turns of a session",
			Args:  cobra.ExactArgs(1),
			RunE: withSessions(func(cmd *cobra.Command, mgr *session.Manager, args []string) error {
				sess, err := mgr.Load(args[0])
				if err != nil {
					return err
				}
				for _, t := range sess.Turns {
					printf(cmd.OutOrStdout(), "[%s] %s: %s\n", t.Timestamp.Local().Format("2006-01-02 15:04"), t.Role, t.Text)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: withSessions(func(cmd *cobra.Command, mgr *session.Manager, args []string) error {
				if err := mgr.Delete(args[0]); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "Deleted session '%s'\n", args[0])
				return nil
			}),
		},
		prune,
	)
	return cmd
}

// withSessions opens the session manager for the current configuration
// before running fn.
func withSessions(fn func(*cobra.Command, *session.Manager, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(".")
		if err != nil {
			return err
		}
		mgr, err := newSessionManager(cfg)
		if err != nil {
			return err
		}
		return fn(cmd, mgr, args)
	}
}

func printSessions(out io.Writer, list []*session.Info) error {
	if len(list) == 0 {
		printf(out, "No sessions found.\n\nStart one with: searchme chat --session NAME\n")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	printf(w, "NAME\tTURNS\tUPDATED\tSIZE\n")
	for _, s := range list {
		printf(w, "%s\t%d\t%s\t%s\n", s.Name, s.Turns, humanize.Time(s.UpdatedAt), humanize.Bytes(uint64(max(s.Size, 0))))
	}
	return w.Flush()
}
