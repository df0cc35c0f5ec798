package room

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTaskThenClaim(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()

	_, err := r.AddTask(ctx, "task-1", "write docs", 1)
	require.NoError(t, err)

	claimed, err := r.Claim(ctx, "alice", "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskClaimed, claimed.Status)
	assert.Equal(t, "alice", claimed.By)
}

func TestAddDuplicateTaskIsAlreadyExists(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)
	_, err = r.AddTask(ctx, "task-1", "y", 0)
	require.Error(t, err)
}

func TestConcurrentClaimHasExactlyOneWinner(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = r.Claim(ctx, "agent", "task-1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestClaimHighestPriorityFirst(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "low", "low prio", 0)
	require.NoError(t, err)
	_, err = r.AddTask(ctx, "high", "high prio", 10)
	require.NoError(t, err)

	claimed, err := r.Claim(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "high", claimed.ID)
}

func TestFullLifecycleTransitions(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)

	_, err = r.Claim(ctx, "alice", "task-1")
	require.NoError(t, err)

	_, err = r.Start(ctx, "alice", "task-1")
	require.NoError(t, err)

	done, err := r.Done(ctx, "alice", "task-1", "shipped")
	require.NoError(t, err)
	assert.Equal(t, TaskDone, done.Status)
	assert.Equal(t, "shipped", done.Notes)
}

func TestNonOwnerCannotTransition(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)
	_, err = r.Claim(ctx, "alice", "task-1")
	require.NoError(t, err)

	_, err = r.Start(ctx, "bob", "task-1")
	require.Error(t, err)
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)

	cancelled, err := r.Cancel(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, cancelled.Status)

	_, err = r.Cancel(ctx, "task-1")
	require.Error(t, err)
}

func TestReleaseReturnsTaskToTodo(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.AddTask(ctx, "task-1", "x", 0)
	require.NoError(t, err)
	_, err = r.Claim(ctx, "alice", "task-1")
	require.NoError(t, err)

	released, err := r.Release(ctx, "alice", "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskTodo, released.Status)
	assert.Empty(t, released.By)
}
