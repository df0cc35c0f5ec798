package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockThenUnlock(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()

	require.NoError(t, r.Lock(ctx, "src/main.go", "alice", time.Minute))

	err := r.Lock(ctx, "src/main.go", "bob", time.Minute)
	require.Error(t, err)

	require.NoError(t, r.Unlock(ctx, "src/main.go", "alice"))
	require.NoError(t, r.Lock(ctx, "src/main.go", "bob", time.Minute))
}

func TestLockReclaimAfterExpiry(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()

	require.NoError(t, r.Lock(ctx, "src/main.go", "alice", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, r.Lock(ctx, "src/main.go", "bob", time.Minute))

	status, err := r.LockStatus(ctx, "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "bob", status.Owner)
}

func TestExtendLockRequiresOwnership(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	require.NoError(t, r.Lock(ctx, "src/main.go", "alice", time.Minute))

	err := r.ExtendLock(ctx, "src/main.go", "bob", time.Minute)
	require.Error(t, err)

	require.NoError(t, r.ExtendLock(ctx, "src/main.go", "alice", time.Hour))
}
