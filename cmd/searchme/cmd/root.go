// Package cmd provides the CLI commands for searchme.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/logging"
	"github.com/Aman-CERP/searchme/internal/profiling"
	"github.com/Aman-CERP/searchme/pkg/version"
)

// Global flags shared by every command.
var (
	debugMode      bool
	quietMode      bool
	dataDirFlag    string
	loggingCleanup func()
	fileLogging    bool

	profileOpts profiling.Options
	profile     *profiling.Session
)

// NewRootCmd creates the root command for the searchme CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchme",
		Short: "Index your files and ask questions about them",
		Long: `searchme indexes documents, PDFs, spreadsheets, web pages, audio tags and
images on this machine into a local vector index, then answers natural
language questions about them with a local language model.

Everything runs locally: embeddings and answers come from Ollama when it
is running, with an offline fallback otherwise.

  searchme index ~/Documents     build or refresh the index
  searchme chat                  ask questions interactively
  searchme query "tax forms"     one-shot question`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("searchme version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Print only results and errors")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Index directory (default ~/.searchme/index)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "memprofile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "trace", "", "Write an execution trace to this file")
	for _, name := range []string{"cpuprofile", "memprofile", "trace"} {
		_ = cmd.PersistentFlags().MarkHidden(name)
	}

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the JSON file logger as slog.Default.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(cfg)
	fileLogging = err == nil
	if err != nil {
		// The file is optional; fall back to stderr at warn level.
		logger, cleanup, _ = logging.Setup(logging.Config{Level: "warn"})
		logger.Warn("log_file_unavailable", slog.String("error", err.Error()))
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("cli_started", slog.String("version", version.Version), slog.Any("args", os.Args[1:]))

	if profileOpts.Enabled() {
		if profile, err = profiling.Start(profileOpts); err != nil {
			return err
		}
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if profile != nil {
		if err := profile.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		profile = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		slog.Error("command_failed", serrors.FormatForLog(err)...)
		if debugMode {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), serrors.FormatForUser(err, true), "\n")
		} else {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), serrors.FormatForCLI(err))
		}
		_ = stopLogging(cmd, nil)
	}
	return err
}
