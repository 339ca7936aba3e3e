package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchme/pkg/version"
)

// MarkerFile is written to the data directory after the checks pass.
const MarkerFile = "preflight.yaml"

// Pass describes the last passing run.
type Pass struct {
	Version string    `yaml:"version"`
	At      time.Time `yaml:"passed_at"`
	Root    string    `yaml:"root,omitempty"`
}

// NeedsCheck reports whether the checks must run before indexing into
// dataDir: nothing has passed yet, the record is unreadable, or it was
// written by another searchme version.
func NeedsCheck(dataDir string) bool {
	p, ok := LastPass(dataDir)
	return !ok || p.Version != version.Short()
}

// LastPass reads the record of the last passing run.
func LastPass(dataDir string) (Pass, bool) {
	data, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return Pass{}, false
	}
	var p Pass
	if err := yaml.Unmarshal(data, &p); err != nil || p.At.IsZero() {
		return Pass{}, false
	}
	return p, true
}

// MarkPassed records a passing run for root, creating dataDir if needed.
func MarkPassed(dataDir, root string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := yaml.Marshal(Pass{Version: version.Short(), At: time.Now().UTC().Truncate(time.Second), Root: root})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), data, 0o644)
}

// ClearMarker forgets the last pass. A missing record is not an error.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove preflight record: %w", err)
	}
	return nil
}
