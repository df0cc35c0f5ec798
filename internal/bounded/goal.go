// Package bounded implements the termination-safe multi-agent execution
// loop from spec §4.5: goal evaluation against spawn output, constraint
// checking (predictive and post-hoc), round-robin agent selection, and
// retry with backoff and jitter.
package bounded

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConditionKind names one of the eight goal-comparison operators.
type ConditionKind string

const (
	CondEq      ConditionKind = "eq"
	CondNeq     ConditionKind = "neq"
	CondLt      ConditionKind = "lt"
	CondLte     ConditionKind = "lte"
	CondGt      ConditionKind = "gt"
	CondGte     ConditionKind = "gte"
	CondBetween ConditionKind = "between"
	CondIn      ConditionKind = "in"
)

// Condition is one comparison against the value resolved at Goal.Path.
type Condition struct {
	Kind ConditionKind
	// Value is used by Eq/Neq/Lt/Lte/Gt/Gte.
	Value any
	// Lo/Hi are used by Between.
	Lo, Hi float64
	// List is used by In.
	List []any
}

// Goal is a dotted JSONPath-lite selector plus a condition to evaluate
// against the resolved value (spec §4.5).
type Goal struct {
	Path      string
	Condition Condition
}

// Met resolves g.Path against output and evaluates g.Condition. A
// missing path is goal-not-met, never an error (spec §4.5).
func (g Goal) Met(output map[string]any) bool {
	val, ok := resolvePath(output, g.Path)
	if !ok {
		return false
	}
	return evaluate(g.Condition, val)
}

// resolvePath walks a dotted "$.a.b.c" path through nested map[string]any
// members. The leading "$." is optional.
func resolvePath(root map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return root, true
	}
	segments := strings.Split(path, ".")
	var cur any = root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func evaluate(c Condition, val any) bool {
	switch c.Kind {
	case CondEq:
		return jsonEqual(val, c.Value)
	case CondNeq:
		return !jsonEqual(val, c.Value)
	case CondLt, CondLte, CondGt, CondGte, CondBetween:
		return evaluateNumeric(c, val)
	case CondIn:
		for _, item := range c.List {
			if jsonEqual(val, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evaluateNumeric(c Condition, val any) bool {
	f, ok := asFloat(val)
	if !ok {
		return false
	}
	switch c.Kind {
	case CondLt:
		target, ok := asFloat(c.Value)
		return ok && f < target
	case CondLte:
		target, ok := asFloat(c.Value)
		return ok && f <= target
	case CondGt:
		target, ok := asFloat(c.Value)
		return ok && f > target
	case CondGte:
		target, ok := asFloat(c.Value)
		return ok && f >= target
	case CondBetween:
		return f >= c.Lo && f <= c.Hi
	default:
		return false
	}
}

// asFloat parses numeric comparisons out of int/float/string JSON values
// (spec §4.5: "numeric comparisons parse Int/Float/String numerics").
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func jsonEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}
