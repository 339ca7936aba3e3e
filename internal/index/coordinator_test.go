package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchme/internal/watcher"
)

func newTestCoordinator(env *testEnv) (*Coordinator, *[]*RunStats) {
	var synced []*RunStats
	c := NewCoordinator(CoordinatorConfig{
		Runner: env.runner,
		Root:   env.root,
		OnSync: func(s *RunStats) { synced = append(synced, s) },
	})
	return c, &synced
}

func event(path string, c watcher.Change) watcher.Event {
	return watcher.Event{Path: path, Change: c, At: time.Now()}
}

func TestCoordinator_HandleEvents_Create(t *testing.T) {
	// Given: an empty index and a new file
	env := newTestEnv(t)
	c, synced := newTestCoordinator(env)
	env.write("new.txt", "fresh content")

	// When: handling its create event
	err := c.HandleEvents(context.Background(), []watcher.Event{event("new.txt", watcher.Created)})

	// Then: the file is indexed
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, env.indexedPaths())
	require.Len(t, *synced, 1)
	assert.Equal(t, 1, (*synced)[0].Indexed)
}

func TestCoordinator_HandleEvents_ModifyAndDelete(t *testing.T) {
	// Given: two indexed files
	env := newTestEnv(t)
	a := env.write("a.txt", "alpha")
	b := env.write("b.txt", "beta")
	env.run()
	c, synced := newTestCoordinator(env)

	// When: one is modified and the other deleted
	require.NoError(t, os.WriteFile(a, []byte("alpha two"), 0o644))
	require.NoError(t, os.Remove(b))
	err := c.HandleEvents(context.Background(), []watcher.Event{
		event("a.txt", watcher.Modified),
		event("b.txt", watcher.Removed),
	})

	// Then: both changes are applied
	require.NoError(t, err)
	require.Len(t, *synced, 1)
	assert.Equal(t, 1, (*synced)[0].Updated)
	assert.Equal(t, 1, (*synced)[0].Deleted)
	assert.Equal(t, []string{"a.txt"}, env.indexedPaths())
	env.requireConsistent()
}

func TestCoordinator_HandleEvents_Rename(t *testing.T) {
	env := newTestEnv(t)
	old := env.write("old.txt", "moving document")
	env.run()
	c, _ := newTestCoordinator(env)

	require.NoError(t, os.Rename(old, filepath.Join(env.root, "new.txt")))
	err := c.HandleEvents(context.Background(), []watcher.Event{
		event("old.txt", watcher.Removed),
		event("new.txt", watcher.Created),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, env.indexedPaths())
}

func TestCoordinator_HandleEvents_IgnoreChangeReconciles(t *testing.T) {
	// Given: an indexed directory
	env := newTestEnv(t)
	env.write("keep.txt", "kept")
	env.write("drafts/wip.txt", "work in progress")
	env.run()
	c, _ := newTestCoordinator(env)

	// When: a .searchmeignore now excludes it
	env.write(".searchmeignore", "drafts/\n")
	err := c.HandleEvents(context.Background(), []watcher.Event{
		event(".searchmeignore", watcher.RulesChanged),
	})

	// Then: a full reconcile removes the newly ignored files
	require.NoError(t, err)
	assert.NotContains(t, env.indexedPaths(), "drafts/wip.txt")
	assert.Contains(t, env.indexedPaths(), "keep.txt")
}

func TestCoordinator_HandleEvents_DirectoryCreateReconciles(t *testing.T) {
	env := newTestEnv(t)
	c, _ := newTestCoordinator(env)
	env.write("newdir/one.txt", "one")
	env.write("newdir/two.txt", "two")

	err := c.HandleEvents(context.Background(), []watcher.Event{
		{Path: "newdir", Change: watcher.Created, Dir: true, At: time.Now()},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"newdir/one.txt", "newdir/two.txt"}, env.indexedPaths())
}

func TestCoordinator_HandleEvents_Empty(t *testing.T) {
	env := newTestEnv(t)
	c, synced := newTestCoordinator(env)

	require.NoError(t, c.HandleEvents(context.Background(), nil))
	assert.Empty(t, *synced)
}

func TestCoordinator_Plan(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{})

	paths, full := c.plan([]watcher.Event{
		event("a.txt", watcher.Created),
		event("a.txt", watcher.Modified),
		event("c.txt", watcher.Removed),
		event("b.txt", watcher.Created),
		event("d.txt", watcher.Removed),
	})
	assert.False(t, full)
	assert.Equal(t, []string{"a.txt", "c.txt", "b.txt", "d.txt"}, paths)

	_, full = c.plan([]watcher.Event{{Path: "docs", Change: watcher.Removed, Dir: true}})
	assert.True(t, full)

	_, full = c.plan([]watcher.Event{event(".searchme.yaml", watcher.ConfigChanged)})
	assert.True(t, full)
}
