package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

var statusNames = [...]string{StatusPass: "PASS", StatusWarn: "WARN", StatusFail: "FAIL"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// MarshalText encodes the status by name so JSON reports stay readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText accepts any case of a status name.
func (s *Status) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown check status %q", b)
}

// Result is the outcome of one named check. Hint tells the user what to do
// about a warning or failure.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Hint     string `json:"hint,omitempty"`
	Required bool   `json:"required"`
}

// Blocking reports whether the result should stop an index run.
func (r Result) Blocking() bool {
	return r.Required && r.Status == StatusFail
}

func pass(name, msg string, required bool) Result {
	return Result{Name: name, Status: StatusPass, Message: msg, Required: required}
}

// Target names the directories a run will touch.
type Target struct {
	// DataDir holds the index. It need not exist yet.
	DataDir string
	// Root is the directory to index; empty skips the read check.
	Root string
}

// Probe is an advisory check of an external service. A nil error passes
// with the returned message; an error becomes a warning carrying Hint.
type Probe struct {
	Name  string
	Check func(ctx context.Context) (string, error)
	Hint  string
}

func (p Probe) run(ctx context.Context) Result {
	msg, err := p.Check(ctx)
	if err != nil {
		return Result{Name: p.Name, Status: StatusWarn, Message: err.Error(), Hint: p.Hint}
	}
	return pass(p.Name, msg, false)
}

// Checker runs the system checks and any registered probes.
type Checker struct {
	verbose bool
	noColor bool
	output  io.Writer
	probes  []Probe
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints hints for passing checks too.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets where Report writes.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// WithNoColor disables colored status labels.
func WithNoColor(noColor bool) Option {
	return func(c *Checker) { c.noColor = noColor }
}

// WithProbe adds an advisory check run after the system checks.
func WithProbe(p Probe) Option {
	return func(c *Checker) { c.probes = append(c.probes, p) }
}

// New creates a Checker writing to stdout.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunRequired runs the checks that can block an index run: free space and
// write access for the data directory, then read access to the root.
func (c *Checker) RunRequired(t Target) []Result {
	// The data directory is created lazily, so space and permissions are
	// checked where it will be created.
	dir := existingAncestor(t.DataDir)
	results := []Result{diskSpace(dir), writable(dir)}
	if t.Root != "" {
		results = append(results, readable(t.Root))
	}
	return results
}

// RunAll runs the required checks, the open file limit and every probe.
func (c *Checker) RunAll(ctx context.Context, t Target) []Result {
	results := append(c.RunRequired(t), openFiles())
	for _, p := range c.probes {
		results = append(results, p.run(ctx))
	}
	return results
}

// FirstCritical returns the first blocking result, if any.
func FirstCritical(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Blocking() {
			return r, true
		}
	}
	return Result{}, false
}

// Verdict summarises results as "ready", "ready_with_warnings" or "failed".
func Verdict(results []Result) string {
	if _, failed := FirstCritical(results); failed {
		return "failed"
	}
	for _, r := range results {
		if r.Status != StatusPass {
			return "ready_with_warnings"
		}
	}
	return "ready"
}

var statusStyles = map[Status]lipgloss.Style{
	StatusPass: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	StatusWarn: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	StatusFail: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

// Report prints one line per result followed by the verdict.
func (c *Checker) Report(results []Result) {
	var b strings.Builder
	b.WriteString("searchme system check\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s: %s\n", c.label(r.Status), r.Name, r.Message)
		if r.Hint != "" && (c.verbose || r.Status != StatusPass) {
			fmt.Fprintf(&b, "       %s\n", r.Hint)
		}
	}
	fmt.Fprintf(&b, "\nStatus: %s\n", strings.ToUpper(Verdict(results)))
	_, _ = io.WriteString(c.output, b.String())
}

func (c *Checker) label(s Status) string {
	style, ok := statusStyles[s]
	if c.noColor || !ok {
		return s.String()
	}
	return style.Render(s.String())
}
