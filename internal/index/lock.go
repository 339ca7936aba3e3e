package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// LockFileName is the writer lock inside the data directory.
const LockFileName = "index.lock"

// WriterLock keeps a second indexer, in this or any other process, away from
// a data directory. Readers never take it.
type WriterLock struct {
	*flock.Flock
}

func NewWriterLock(dataDir string) *WriterLock {
	return &WriterLock{flock.New(filepath.Join(dataDir, LockFileName))}
}

// TryLock fails fast with ERR_105 when another writer holds the directory.
func (l *WriterLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ok, err := l.Flock.TryLock()
	switch {
	case err != nil:
		return fmt.Errorf("lock %s: %w", l.Path(), err)
	case !ok:
		return serrors.New(serrors.ErrCodeIndexLocked, "another indexer is writing to this index", nil).
			WithDetail("lock", l.Path()).
			WithSuggestion("Wait for the running index to finish, or stop it first")
	}
	return nil
}

// Unlock is a no-op when the lock is not held.
func (l *WriterLock) Unlock() error {
	if !l.Locked() {
		return nil
	}
	if err := l.Flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.Path(), err)
	}
	return nil
}

// IsLocked reports whether this process holds the lock.
func (l *WriterLock) IsLocked() bool { return l.Locked() }
