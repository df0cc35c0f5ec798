package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir(), nil)
	require.NoError(t, err)
	return fs
}

func TestFilesystemSetIfAbsentIsCAS(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	ok, err := fs.SetIfAbsent(ctx, "tasks:task-01", []byte("first"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.SetIfAbsent(ctx, "tasks:task-01", []byte("second"))
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err := fs.Get(ctx, "tasks:task-01")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("first"), got)
}

func TestFilesystemLockLeaseReclaim(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	ok, err := fs.AcquireLock(ctx, "src/main.rs", "claude", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = fs.AcquireLock(ctx, "src/main.rs", "codex", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := fs.ReleaseLock(ctx, "src/main.rs", "claude")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestFilesystemRoundTripsThroughColonMapping(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Set(ctx, "agents:alice", []byte("payload")))
	got, found, err := fs.Get(ctx, "agents:alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), got)

	keys, err := fs.ListKeys(ctx, "agents:")
	require.NoError(t, err)
	assert.Contains(t, keys, "agents:alice")
}

func TestFilesystemDeleteNotFound(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	err := fs.Delete(ctx, "agents:ghost")
	require.Error(t, err)
}

func TestFilesystemHealthCheck(t *testing.T) {
	fs := newTestFilesystem(t)
	h := fs.HealthCheck(context.Background())
	assert.True(t, h.Healthy)
}
