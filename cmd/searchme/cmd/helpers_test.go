package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points HOME, the user config and the log directory at temp
// dirs and forces the offline embedder.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("SEARCHME_EMBEDDER", "static")
	t.Setenv("NO_COLOR", "1")
	return home
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	_ = stopLogging(cmd, nil)
	return stdout.String(), stderr.String(), err
}

// writeDocs creates a small document tree and returns its root.
func writeDocs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"k8s.txt":        "kubernetes cluster deployment pods services ingress controller",
		"cake.txt":       "chocolate cake recipe with flour sugar butter eggs and cocoa",
		"notes/tax.md":   "# Taxes\n\nThe tax return is due in April. Keep the receipts.",
		"notes/trip.txt": "packing list for the mountain trip: boots, tent, stove",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// indexDocs builds an index of a fresh document tree in a temp data dir.
func indexDocs(t *testing.T) (root, dataDir string) {
	t.Helper()
	root = writeDocs(t)
	dataDir = filepath.Join(t.TempDir(), "index")
	_, stderr, err := run(t, "index", root, "--no-tui", "--data-dir", dataDir)
	require.NoError(t, err, stderr)
	return root, dataDir
}
