package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DirName is the sessions directory under the data directory.
const DirName = "sessions"

// DefaultMaxSessions caps how many sessions Open will create.
const DefaultMaxSessions = 100

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StoragePath is normally <data-dir>/sessions.
	StoragePath string
	MaxSessions int
	// MaxTurns is applied to every session Open returns.
	MaxTurns int
}

// Manager keeps named sessions as <name>.json files in one directory.
// It is not safe for use by several processes at once.
type Manager struct {
	dir      string
	limit    int
	maxTurns int
}

// NewManager creates the storage directory if needed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, errors.New("session storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}
	m := &Manager{dir: cfg.StoragePath, limit: cfg.MaxSessions, maxTurns: cfg.MaxTurns}
	if m.limit <= 0 {
		m.limit = DefaultMaxSessions
	}
	return m, nil
}

// Dir is the storage directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+fileExt)
}

// Open resumes the named session, or creates and saves an empty one.
func (m *Manager) Open(name string) (*Session, error) {
	s, err := m.Load(name)
	switch {
	case err == nil:
		if m.maxTurns > 0 {
			s.MaxTurns = m.maxTurns
		}
		return s, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	names, err := m.names()
	if err != nil {
		return nil, err
	}
	if len(names) >= m.limit {
		return nil, fmt.Errorf("%w: %d sessions exist, prune or delete some first", ErrLimit, len(names))
	}

	s = New(name, m.maxTurns)
	if err := writeSession(m.path(name), s); err != nil {
		return nil, err
	}
	slog.Debug("session_created", slog.String("name", name), slog.String("id", s.ID))
	return s, nil
}

// Save writes s under its name.
func (m *Manager) Save(s *Session) error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	return writeSession(m.path(s.Name), s)
}

// Load reads the named session without changing it.
func (m *Manager) Load(name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s, err := readSession(m.path(name))
	if err != nil {
		return nil, err
	}
	s.Name = name
	return s, nil
}

// Exists reports whether a session file for name is present.
func (m *Manager) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	fi, err := os.Stat(m.path(name))
	return err == nil && fi.Mode().IsRegular()
}

// Delete removes the named session.
func (m *Manager) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(m.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// List returns every readable session, most recently updated first.
func (m *Manager) List() ([]*Info, error) {
	names, err := m.names()
	if err != nil {
		return nil, err
	}

	infos := make([]*Info, 0, len(names))
	for _, name := range names {
		s, err := m.Load(name)
		if err != nil {
			slog.Warn("session_unreadable", slog.String("name", name), slog.String("error", err.Error()))
			continue
		}
		var size int64
		if fi, err := os.Stat(m.path(name)); err == nil {
			size = fi.Size()
		}
		infos = append(infos, s.ToInfo(size))
	}

	slices.SortStableFunc(infos, func(a, b *Info) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return infos, nil
}

// Prune deletes sessions not updated within olderThan and returns how many
// were removed.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, info := range infos {
		if !info.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.Delete(info.Name); err != nil {
			slog.Warn("session_prune_failed", slog.String("name", info.Name), slog.String("error", err.Error()))
			continue
		}
		n++
	}
	return n, nil
}

// names lists the valid session names present in the directory.
func (m *Manager) names() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if ok && !e.IsDir() && ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	return names, nil
}
