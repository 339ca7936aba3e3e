// Package exclude decides which paths under an index root are never indexed.
//
// A Matcher combines built-in policies (system directories, developer
// noise, hidden files, the index's own data directory) with user rules in
// gitignore syntax, plus any .gitignore and .searchmeignore files found
// while walking.
package exclude

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IgnoreFileName is the per-directory ignore file specific to searchme.
const IgnoreFileName = ".searchmeignore"

// SystemDirs are pseudo-filesystems and volatile trees skipped when the
// walk reaches them from a higher root such as /.
var SystemDirs = []string{
	"/proc", "/sys", "/run", "/dev", "/tmp", "/var/tmp", "/var/cache",
	"/var/run", "/var/lock", "/lost+found", "/.snapshots",
}

// NoiseNames are tool and VCS directories that never hold user documents.
var NoiseNames = []string{
	".git", "__pycache__", "node_modules", ".venv", "venv", ".env", ".idea", ".vscode",
}

// Reason explains why a path was excluded.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonSystem
	ReasonNoise
	ReasonHidden
	ReasonPattern
	ReasonIgnoreFile
	ReasonNotIncluded
	ReasonDataDir
)

// String returns a short label for logs and stats.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSystem:
		return "system"
	case ReasonNoise:
		return "noise"
	case ReasonHidden:
		return "hidden"
	case ReasonPattern:
		return "pattern"
	case ReasonIgnoreFile:
		return "ignore_file"
	case ReasonNotIncluded:
		return "not_included"
	case ReasonDataDir:
		return "data_dir"
	default:
		return "unknown"
	}
}

// Policy is the user-facing exclusion configuration.
type Policy struct {
	Exclude            []string
	Include            []string
	SkipHidden         bool
	SkipSystem         bool
	RespectIgnoreFiles bool
	// SkipDirs are absolute directories to skip, such as the data dir.
	SkipDirs []string
}

// Matcher is safe for concurrent use.
type Matcher struct {
	root     string
	policy   Policy
	system   []string
	skipDirs []string
	noise    map[string]bool
	user     ruleSet
	include  ruleSet

	mu     sync.RWMutex
	ignore ruleSet
	loaded map[string]bool
}

// New builds a Matcher for root.
func New(root string, p Policy) *Matcher {
	m := &Matcher{
		root:   filepath.Clean(root),
		policy: p,
		noise:  make(map[string]bool, len(NoiseNames)),
		loaded: make(map[string]bool),
	}
	for _, n := range NoiseNames {
		m.noise[n] = true
	}
	if p.SkipSystem {
		// A denylisted directory the user chose as root (or an ancestor of
		// it) is indexed as asked.
		for _, d := range SystemDirs {
			if !within(m.root, d) {
				m.system = append(m.system, d)
			}
		}
	}
	for _, d := range p.SkipDirs {
		if d != "" {
			m.skipDirs = append(m.skipDirs, filepath.Clean(d))
		}
	}
	for _, pat := range p.Exclude {
		m.user.add(pat, "")
	}
	for _, pat := range p.Include {
		m.include.add(pat, "")
	}
	return m
}

// Root returns the directory rel paths are resolved against.
func (m *Matcher) Root() string {
	return m.root
}

// LoadIgnoreFiles reads .gitignore and .searchmeignore from the directory
// rel (slash-separated, "" for root). Each directory is read once.
func (m *Matcher) LoadIgnoreFiles(rel string) error {
	if !m.policy.RespectIgnoreFiles {
		return nil
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded[rel] {
		return nil
	}
	m.loaded[rel] = true

	dir := filepath.Join(m.root, filepath.FromSlash(rel))
	for _, name := range []string{".gitignore", IgnoreFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := m.ignore.addFile(path, rel); err != nil {
			return err
		}
	}
	return nil
}

// Excluded reports whether rel (relative to root) must be skipped.
func (m *Matcher) Excluded(rel string, isDir bool) bool {
	return m.Reason(rel, isDir) != ReasonNone
}

// Reason returns why rel is excluded, or ReasonNone.
func (m *Matcher) Reason(rel string, isDir bool) Reason {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" {
		return ReasonNone
	}

	abs := filepath.Join(m.root, filepath.FromSlash(rel))
	for _, d := range m.skipDirs {
		if within(abs, d) {
			return ReasonDataDir
		}
	}
	for _, d := range m.system {
		if within(abs, d) {
			return ReasonSystem
		}
	}

	parts := strings.Split(rel, "/")
	for _, part := range parts {
		if m.noise[part] {
			return ReasonNoise
		}
	}
	if m.policy.SkipHidden {
		for _, part := range parts {
			if strings.HasPrefix(part, ".") {
				return ReasonHidden
			}
		}
	}

	if m.user.match(rel, isDir) {
		return ReasonPattern
	}

	m.mu.RLock()
	ignored := m.ignore.match(rel, isDir)
	m.mu.RUnlock()
	if ignored {
		return ReasonIgnoreFile
	}

	if !isDir && len(m.include.rules) > 0 && !m.include.match(rel, false) {
		return ReasonNotIncluded
	}
	return ReasonNone
}

// within reports whether path equals dir or lies beneath it.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	if dir == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
