package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Evaluate unit tests
// =============================================================================

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		vars     map[string]any
		expected bool
		wantErr  bool
	}{
		// --- Comparison operators ---
		{name: "greater than true", expr: `score > 0.8`, vars: map[string]any{"score": 0.9}, expected: true},
		{name: "greater than false", expr: `score > 0.8`, vars: map[string]any{"score": 0.5}},
		{name: "equal string", expr: `status == "active"`, vars: map[string]any{"status": "active"}, expected: true},
		{name: "single quoted string", expr: `status == 'done'`, vars: map[string]any{"status": "done"}, expected: true},
		{name: "not equal", expr: `count != 0`, vars: map[string]any{"count": 5}, expected: true},
		{name: "numeric string vs number", expr: `result_match == 1`, vars: map[string]any{"result_match": "1"}, expected: true},
		{name: "templated literal", expr: `"1" == "1"`, expected: true},
		{name: "less equal", expr: `n <= 3`, vars: map[string]any{"n": 3}, expected: true},

		// --- Logical operators ---
		{name: "and", expr: `a > 1 && b < 5`, vars: map[string]any{"a": 2, "b": 4}, expected: true},
		{name: "or", expr: `a > 10 || b < 5`, vars: map[string]any{"a": 2, "b": 4}, expected: true},
		{name: "word operators", expr: `a > 1 and not (b > 5)`, vars: map[string]any{"a": 2, "b": 4}, expected: true},
		{name: "negation", expr: `!done`, vars: map[string]any{"done": false}, expected: true},
		{name: "python literals", expr: `flag == True`, vars: map[string]any{"flag": true}, expected: true},

		// --- Arithmetic ---
		{name: "arithmetic", expr: `score * 2 >= 1.5`, vars: map[string]any{"score": 0.8}, expected: true},
		{name: "negative literal", expr: `-3 < x`, vars: map[string]any{"x": 0}, expected: true},
		{name: "modulo", expr: `n % 2 == 0`, vars: map[string]any{"n": 4}, expected: true},

		// --- Field access ---
		{name: "dot path", expr: `result.score > 0.5`, vars: map[string]any{"result": map[string]any{"score": 0.7}}, expected: true},
		{name: "nil comparison", expr: `x == nil`, vars: map[string]any{"x": nil}, expected: true},

		// --- Literal truthiness ---
		{name: "bare true", expr: `true`, expected: true},
		{name: "string zero is false", expr: `v`, vars: map[string]any{"v": "0"}},

		// --- Errors ---
		{name: "undefined variable", expr: `missing == 1`, wantErr: true},
		{name: "unterminated string", expr: `a == "x`, vars: map[string]any{"a": "x"}, wantErr: true},
		{name: "unbalanced paren", expr: `(a == 1`, vars: map[string]any{"a": 1}, wantErr: true},
		{name: "trailing token", expr: `1 == 1 2`, wantErr: true},
		{name: "function call rejected", expr: `__import__("os")`, wantErr: true},
		{name: "bad character", expr: `a; b`, vars: map[string]any{"a": 1, "b": 1}, wantErr: true},
		{name: "empty", expr: `   `, wantErr: true},
		{name: "division by zero", expr: `1 / 0 > 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, tt.vars)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEval_Value(t *testing.T) {
	v, err := Eval(`(1 + 2) * 4 / 2`, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	v, err = Eval(`"ab" + "cd"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcd", v)

	_, err = Eval(`"ab" * 2`, nil)
	assert.Error(t, err)
}
