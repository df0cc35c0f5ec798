package mitosis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool() *StemPool {
	n := 0
	return NewStemPool(func() string {
		n++
		return "cell-" + strconv.Itoa(n)
	})
}

func TestAutoCheckBelowPrepareThresholdIsNone(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil)
	cell := NewCell("parent", 0)
	cell.Activate(0)

	out, err := m.AutoCheck(context.Background(), cell, strings.Repeat("x", 4000), 0.3, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
}

func TestAutoCheckAtPrepareRatioPrepares(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil)
	cell := NewCell("parent", 0)
	cell.Activate(0)
	content := strings.Repeat("x", 4000)

	out, err := m.AutoCheck(context.Background(), cell, content, 0.55, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionPrepared, out.Action)
	assert.Equal(t, PhaseReadyForHandoff, cell.Phase)
	assert.Len(t, cell.PreparedDNA, 500) // compression_ratio 0.125 * 4000
}

func TestPrepareIsIdempotent(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil)
	cell := NewCell("parent", 0)
	cell.Activate(0)
	content := strings.Repeat("x", 4000)

	m.Prepare(cell, content)
	first := cell.PreparedDNA
	m.Prepare(cell, strings.Repeat("y", 9000))
	assert.Equal(t, first, cell.PreparedDNA)
}

func TestHandoffAtRatioBuildsDeltaDNA(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil) // nil codec: delta kept as plain text
	cell := NewCell("parent", 0)
	cell.Activate(0)

	content := strings.Repeat("a", 4000)
	m.Prepare(cell, content)
	require.Equal(t, 500, len(cell.PreparedDNA))

	grown := content + strings.Repeat("b", 1200)
	require.Equal(t, 5200, len(grown))

	out, err := m.AutoCheck(context.Background(), cell, grown, 0.82, func(ctx context.Context, prompt string) error { return nil })
	require.NoError(t, err)
	require.Equal(t, ActionHandoff, out.Action)

	dna := out.Child.CurrentDNA
	assert.True(t, strings.HasPrefix(dna, cell.PreparedDNA))
	assert.Contains(t, dna, recentUpdatesHeader)
	assert.Contains(t, dna, strings.Repeat("b", 20))
}

func TestHandoffWithoutPriorPrepareUsesFullContext(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil)
	cell := NewCell("parent", 0)
	cell.Activate(0)
	content := strings.Repeat("z", 2000)

	out, err := m.AutoCheck(context.Background(), cell, content, 0.9, func(ctx context.Context, prompt string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, content, out.Child.CurrentDNA)
}

func TestHandoffBelowMinContextForDeltaReturnsPreparedDNAExactly(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg, newTestPool(), nil)
	cell := NewCell("parent", 0)
	cell.Activate(0)

	content := strings.Repeat("a", 400) // below MinContextForDelta (1000)
	m.Prepare(cell, content)

	merged := m.buildHandoffDNA(cell, content)
	assert.Equal(t, cell.PreparedDNA, merged)
}

func TestHandoffWithFullyDuplicateDeltaReturnsPreparedDNAExactly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDeltaLen = 1
	m := New(cfg, newTestPool(), nil)

	line := "this is a long duplicated line of content"
	cell := NewCell("parent", 0)
	cell.Activate(0)
	cell.Phase = PhaseReadyForHandoff
	cell.PreparedDNA = line + "\n" + line
	cell.PrepareContextLen = 2000

	grown := strings.Repeat("x", 2000) + line + "\n" + line
	merged := m.buildHandoffDNA(cell, grown)
	assert.Equal(t, cell.PreparedDNA, merged)
}

func TestHandoffEmptiesPoolActivatesEmergencyCell(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil)
	cell := NewCell("parent", 5)
	cell.Activate(5)
	content := strings.Repeat("x", 2000)

	child, err := m.Handoff(context.Background(), cell, content, nil)
	require.NoError(t, err)
	// Pool was empty: an emergency cell (generation 999 pre-activation) is
	// conjured, then re-initialized to parent+1 like any other successor.
	assert.Equal(t, 6, child.Generation)
}

func TestHandoffMarksParentApoptotic(t *testing.T) {
	m := New(DefaultConfig(), newTestPool(), nil)
	cell := NewCell("parent", 0)
	cell.Activate(0)
	content := strings.Repeat("x", 2000)

	_, err := m.Handoff(context.Background(), cell, content, nil)
	require.NoError(t, err)
	assert.Equal(t, StateApoptotic, cell.State)
	require.NoError(t, m.CompleteApoptosis(cell))
}

func TestSafeSubInvalidRangesYieldEmpty(t *testing.T) {
	assert.Equal(t, "", safeSub("hello", 10, 20))
	assert.Equal(t, "", safeSub("hello", -5, -1))
	assert.Equal(t, "he", safeSub("hello", -5, 2))
	assert.Equal(t, "llo", safeSub("hello", 2, 100))
}
