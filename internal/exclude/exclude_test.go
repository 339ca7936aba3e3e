package exclude

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSet_GitignoreSyntax(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"extension anywhere", "*.log", "a/b/debug.log", false, true},
		{"extension no match", "*.log", "a/b/debug.txt", false, false},
		{"dir only matches dir", "build/", "build", true, true},
		{"dir only not file", "build/", "build", false, false},
		{"dir only covers children", "build/", "src/build/out.bin", false, true},
		{"anchored root only", "/secret.txt", "secret.txt", false, true},
		{"anchored not nested", "/secret.txt", "a/secret.txt", false, false},
		{"inner slash anchored", "docs/internal", "docs/internal/x.md", false, true},
		{"inner slash not nested", "docs/internal", "a/docs/internal", true, false},
		{"double star prefix", "**/cache", "a/b/cache", true, true},
		{"double star suffix", "logs/**", "logs/2024/a.txt", false, true},
		{"question mark", "file?.txt", "file1.txt", false, true},
		{"char class", "img[0-9].png", "img7.png", false, true},
		{"negated class", "img[!0-9].png", "imgx.png", false, true},
		{"escaped hash", `\#notes`, "#notes", false, true},
		{"comment ignored", "# *.txt", "a.txt", false, false},
		{"literal dot", "a.b", "axb", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s ruleSet
			s.add(tt.pattern, "")
			assert.Equal(t, tt.want, s.match(tt.path, tt.isDir))
		})
	}
}

func TestRuleSet_NegationLastMatchWins(t *testing.T) {
	var s ruleSet
	s.add("*.md", "")
	s.add("!README.md", "")

	assert.True(t, s.match("notes.md", false))
	assert.False(t, s.match("README.md", false))
}

func TestMatcher_NoiseAndHidden(t *testing.T) {
	root := t.TempDir()

	m := New(root, Policy{SkipHidden: true})

	assert.Equal(t, ReasonNoise, m.Reason("proj/node_modules/x/index.js", false))
	assert.Equal(t, ReasonNoise, m.Reason(".git", true))
	assert.Equal(t, ReasonHidden, m.Reason("notes/.draft.txt", false))
	assert.Equal(t, ReasonNone, m.Reason("notes/draft.txt", false))

	visible := New(root, Policy{})
	assert.False(t, visible.Excluded("notes/.draft.txt", false))
	assert.Equal(t, "hidden", ReasonHidden.String())
}

func TestMatcher_SystemDirsRelativeToRoot(t *testing.T) {
	// Given: a matcher rooted at /
	m := New("/", Policy{SkipSystem: true})

	// Then: pseudo filesystems are excluded, home directories are not
	assert.Equal(t, ReasonSystem, m.Reason("proc/1/status", false))
	assert.Equal(t, ReasonSystem, m.Reason("var/cache", true))
	assert.Equal(t, ReasonNone, m.Reason("home/user/doc.txt", false))

	// And: a root inside a denylisted dir is still indexable
	inTmp := New("/tmp/project", Policy{SkipSystem: true})
	assert.Equal(t, ReasonNone, inTmp.Reason("a.txt", false))
}

func TestMatcher_DataDirSkipped(t *testing.T) {
	root := t.TempDir()
	data := filepath.Join(root, "index-data")

	m := New(root, Policy{SkipDirs: []string{data}})

	assert.Equal(t, ReasonDataDir, m.Reason("index-data", true))
	assert.Equal(t, ReasonDataDir, m.Reason("index-data/metadata.db", false))
	assert.Equal(t, ReasonNone, m.Reason("index-database.txt", false))
}

func TestMatcher_UserPatternsAndInclude(t *testing.T) {
	m := New(t.TempDir(), Policy{
		Exclude: []string{"*.tmp", "archive/"},
		Include: []string{"*.md", "*.pdf"},
	})

	assert.Equal(t, ReasonPattern, m.Reason("a/b.tmp", false))
	assert.Equal(t, ReasonPattern, m.Reason("archive", true))
	assert.Equal(t, ReasonNotIncluded, m.Reason("main.go", false))
	assert.Equal(t, ReasonNone, m.Reason("docs/guide.md", false))
	// Include never prunes directories.
	assert.Equal(t, ReasonNone, m.Reason("docs", true))
}

func TestMatcher_NestedIgnoreFiles(t *testing.T) {
	// Given: a root .searchmeignore and a nested .gitignore
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("*.bak\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", ".gitignore"), []byte("/local.txt\n"), 0o644))

	m := New(root, Policy{RespectIgnoreFiles: true})

	// When: loading both directories
	require.NoError(t, m.LoadIgnoreFiles(""))
	require.NoError(t, m.LoadIgnoreFiles("sub"))
	require.NoError(t, m.LoadIgnoreFiles("sub"))

	// Then: root rules apply everywhere, nested rules only beneath sub
	assert.Equal(t, ReasonIgnoreFile, m.Reason("x/y.bak", false))
	assert.Equal(t, ReasonIgnoreFile, m.Reason("sub/local.txt", false))
	assert.Equal(t, ReasonNone, m.Reason("local.txt", false))
}

func TestMatcher_IgnoreFilesDisabled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.txt\n"), 0o644))

	m := New(root, Policy{})
	require.NoError(t, m.LoadIgnoreFiles(""))

	assert.False(t, m.Excluded("a.txt", false))
}
