package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/config"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/query"
	"github.com/Aman-CERP/searchme/internal/session"
	"github.com/Aman-CERP/searchme/internal/ui"
)

// DefaultSessionName is the conversation used when --session is not given.
const DefaultSessionName = "default"

func newChatCmd() *cobra.Command {
	var (
		name  string
		fresh bool
		topK  int
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about your files interactively",
		Long: `Start an interactive conversation about the indexed files.

Follow-up questions see the recent conversation. Conversations are saved
per session name and resumed on the next start.

Commands inside the chat:
  /reset     forget the conversation
  /history   show the conversation so far
  /exit      leave (Ctrl+D works too)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cmd, name, fresh, topK)
		},
	}

	cmd.Flags().StringVarP(&name, "session", "s", DefaultSessionName, "Conversation to resume or create")
	cmd.Flags().BoolVar(&fresh, "new", false, "Start the session with an empty history")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")

	return cmd
}

func newSessionManager(cfg *config.Config) (*session.Manager, error) {
	return session.NewManager(session.ManagerConfig{
		StoragePath: filepath.Join(cfg.Index.DataDir, session.DirName),
		MaxTurns:    cfg.Session.MaxTurns,
	})
}

// chat holds one interactive conversation.
type chat struct {
	engine *query.Engine
	mgr    *session.Manager
	sess   *session.Session
	stream bool
	topK   int
	styles ui.Styles
	out    io.Writer
}

func runChat(ctx context.Context, cmd *cobra.Command, name string, fresh bool, topK int) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}
	r, err := openReader(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	mgr, err := newSessionManager(cfg)
	if err != nil {
		return err
	}
	sess, err := mgr.Open(name)
	if err != nil {
		return err
	}
	if fresh && sess.Len() > 0 {
		sess.Reset()
		if err := mgr.Save(sess); err != nil {
			return err
		}
	}

	c := &chat{
		engine: r.engine,
		mgr:    mgr,
		sess:   sess,
		stream: cfg.LLM.Stream,
		topK:   topK,
		styles: ui.GetStyles(ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout())),
		out:    cmd.OutOrStdout(),
	}

	if !quietMode {
		c.banner(ctx, r)
	}
	return c.loop(ctx, cmd.InOrStdin())
}

func (c *chat) banner(ctx context.Context, r *reader) {
	_, _ = fmt.Fprintln(c.out, c.styles.Header.Render("searchme chat"))
	model := r.backend.ModelName()
	if !r.backend.Available(ctx) {
		model += " (offline: showing matching files instead of answers)"
	}
	_, _ = fmt.Fprintln(c.out, c.styles.Label.Render("model: "+model))
	if n := c.sess.Len(); n > 0 {
		_, _ = fmt.Fprintln(c.out, c.styles.Label.Render(
			fmt.Sprintf("session %q resumed with %d turns (/reset to clear)", c.sess.Name, n)))
	}
	_, _ = fmt.Fprintln(c.out, c.styles.Dim.Render("Type a question, or /exit to leave."))
}

func (c *chat) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		c.prompt()
		var line string
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(c.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				_, _ = fmt.Fprintln(c.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "/exit", "/quit", "exit", "quit":
			return nil
		case "/reset", "/clear":
			c.sess.Reset()
			if err := c.mgr.Save(c.sess); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.out, c.styles.Dim.Render("Conversation cleared."))
			continue
		case "/history":
			c.history()
			continue
		}

		if err := c.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.showError(err)
		}
	}
}

func (c *chat) prompt() {
	if !quietMode {
		_, _ = fmt.Fprint(c.out, c.styles.Active.Render("› "))
	}
}

// ask answers one question. The exchange is recorded only when the model
// produced a complete reply.
func (c *chat) ask(ctx context.Context, q string) error {
	history := c.sess.Recent(0)

	var (
		reply    string
		fallback bool
	)
	if c.stream {
		st, err := c.engine.QueryStream(ctx, q, history, c.topK)
		if err != nil {
			return err
		}
		reply, err = printStream(c.out, st.Fragments)
		if err != nil {
			return err
		}
		fallback = st.Fallback
		printSources(c.out, st.Result.Hits, fallback)
	} else {
		ans, err := c.engine.Query(ctx, q, history, c.topK)
		if err != nil {
			return err
		}
		reply, fallback = ans.Text, ans.Fallback
		_, _ = fmt.Fprintln(c.out, reply)
		printSources(c.out, ans.Hits, fallback)
	}

	if fallback {
		return nil
	}
	c.sess.Append(session.RoleUser, q)
	c.sess.Append(session.RoleAssistant, reply)
	return c.mgr.Save(c.sess)
}

func (c *chat) history() {
	if c.sess.Len() == 0 {
		_, _ = fmt.Fprintln(c.out, c.styles.Dim.Render("No conversation yet."))
		return
	}
	for _, t := range c.sess.Turns {
		label := c.styles.Active.Render("you")
		if t.Role == session.RoleAssistant {
			label = c.styles.Header.Render("searchme")
		}
		_, _ = fmt.Fprintf(c.out, "%s %s\n", label, t.Text)
	}
}

func (c *chat) showError(err error) {
	if errors.Is(err, query.ErrNoRelevantContent) {
		_, _ = fmt.Fprintln(c.out, "No matching files found.")
		return
	}
	_, _ = fmt.Fprint(c.out, c.styles.Error.Render(serrors.FormatForCLI(err)))
}
