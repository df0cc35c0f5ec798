package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetIfAbsentIsCAS(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(2)
	for i := range 2 {
		go func(i int) {
			defer wg.Done()
			ok, err := m.SetIfAbsent(ctx, "tasks:race", []byte("v"))
			require.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	trueCount := 0
	for _, ok := range results {
		if ok {
			trueCount++
		}
	}
	assert.Equal(t, 1, trueCount)
}

func TestMemoryLockLeaseReclaim(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	ok, err := m.AcquireLock(ctx, "src/main.rs", "claude", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = m.AcquireLock(ctx, "src/main.rs", "codex", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := m.ReleaseLock(ctx, "src/main.rs", "claude")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = m.ReleaseLock(ctx, "src/main.rs", "codex")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestMemoryLockNotReclaimedWhileLive(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	ok, err := m.AcquireLock(ctx, "src/lib.rs", "alice", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.AcquireLock(ctx, "src/lib.rs", "bob", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDeleteIsIdempotentNotFound(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "agents:alice", []byte("x")))
	require.NoError(t, m.Delete(ctx, "agents:alice"))

	err := m.Delete(ctx, "agents:alice")
	require.Error(t, err)
}

func TestMemoryKeyValidationRejectsBadKeys(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	bad := []string{"", "has/slash", ":leading", "trailing:", "a:..:b", "has\x00nul"}
	for _, k := range bad {
		_, err := m.SetIfAbsent(ctx, k, []byte("x"))
		assert.Error(t, err, "expected key %q to be rejected", k)
	}
}

func TestMemoryListKeysAndGetAll(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "agents:alice", []byte("a")))
	require.NoError(t, m.Set(ctx, "agents:bob", []byte("b")))
	require.NoError(t, m.Set(ctx, "tasks:1", []byte("t")))

	keys, err := m.ListKeys(ctx, "agents:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agents:alice", "agents:bob"}, keys)

	all, err := m.GetAll(ctx, "agents:")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"agents:alice": []byte("a"), "agents:bob": []byte("b")}, all)
}
