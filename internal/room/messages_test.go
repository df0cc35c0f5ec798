package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastSequenceIsMonotone(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()

	m1, err := r.Broadcast(ctx, "alice", "hello", "")
	require.NoError(t, err)
	m2, err := r.Broadcast(ctx, "bob", "hi", "alice")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m1.Seq)
	assert.Equal(t, uint64(2), m2.Seq)
}

func TestMessagesSinceFiltersBySeq(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	_, err := r.Broadcast(ctx, "alice", "one", "")
	require.NoError(t, err)
	_, err = r.Broadcast(ctx, "alice", "two", "")
	require.NoError(t, err)

	msgs, err := r.MessagesSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].Content)
}
