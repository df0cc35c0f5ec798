package room

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("hello\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func hasGitBinary(t *testing.T) bool {
	t.Helper()
	if _, err := os.Stat("/usr/bin/git"); err == nil {
		return true
	}
	if _, err := os.Stat("/usr/local/bin/git"); err == nil {
		return true
	}
	return false
}

func TestCreateWorktreeRegistersPathOnTask(t *testing.T) {
	if !hasGitBinary(t) {
		t.Skip("git binary not available")
	}
	repoRoot := initTestRepo(t)
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)

	path, err := r.CreateWorktree(ctx, repoRoot, "alice", "task-1", "main")
	require.NoError(t, err)
	assert.DirExists(t, path)

	task, err := r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, path, task.Worktree)
}

func TestCreateWorktreeFromInsideExistingWorktreeResolvesMainRoot(t *testing.T) {
	if !hasGitBinary(t) {
		t.Skip("git binary not available")
	}
	repoRoot := initTestRepo(t)
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)
	_, err = r.AddTask(ctx, "task-2", "y", 0)
	require.NoError(t, err)

	firstPath, err := r.CreateWorktree(ctx, repoRoot, "alice", "task-1", "main")
	require.NoError(t, err)

	// repoRoot here is a linked worktree, not the main repo: CreateWorktree
	// must still land the new worktree next to the first one, not nested
	// inside it.
	secondPath, err := r.CreateWorktree(ctx, firstPath, "bob", "task-2", "main")
	require.NoError(t, err)

	assert.DirExists(t, secondPath)
	assert.Equal(t, filepath.Join(repoRoot, ".worktrees", "bob-task-2"), secondPath)
	assert.NotContains(t, secondPath, firstPath)
}
