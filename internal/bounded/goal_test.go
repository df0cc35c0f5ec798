package bounded

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoalGteMet(t *testing.T) {
	g := Goal{Path: "$.score", Condition: Condition{Kind: CondGte, Value: 0.8}}
	assert.False(t, g.Met(map[string]any{"score": 0.2}))
	assert.False(t, g.Met(map[string]any{"score": 0.5}))
	assert.True(t, g.Met(map[string]any{"score": 0.9}))
}

func TestGoalMissingPathIsNotMet(t *testing.T) {
	g := Goal{Path: "$.a.b", Condition: Condition{Kind: CondEq, Value: "x"}}
	assert.False(t, g.Met(map[string]any{"a": map[string]any{"c": "x"}}))
}

func TestGoalNestedPath(t *testing.T) {
	g := Goal{Path: "$.a.b.c", Condition: Condition{Kind: CondEq, Value: "ok"}}
	assert.True(t, g.Met(map[string]any{"a": map[string]any{"b": map[string]any{"c": "ok"}}}))
}

func TestGoalStringNumericComparison(t *testing.T) {
	g := Goal{Path: "$.count", Condition: Condition{Kind: CondGt, Value: 5.0}}
	assert.True(t, g.Met(map[string]any{"count": "10"}))
}

func TestGoalBetween(t *testing.T) {
	g := Goal{Path: "$.x", Condition: Condition{Kind: CondBetween, Lo: 1, Hi: 10}}
	assert.True(t, g.Met(map[string]any{"x": 5.0}))
	assert.False(t, g.Met(map[string]any{"x": 11.0}))
}

func TestGoalIn(t *testing.T) {
	g := Goal{Path: "$.status", Condition: Condition{Kind: CondIn, List: []any{"done", "closed"}}}
	assert.True(t, g.Met(map[string]any{"status": "done"}))
	assert.False(t, g.Met(map[string]any{"status": "open"}))
}
