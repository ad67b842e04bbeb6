package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		outputs []string
		want    workflow.Variables
		wantErr bool
	}{
		{
			name:    "fenced json",
			reply:   "```json\n{\"x\": 1}\n```",
			outputs: []string{"x"},
			want:    workflow.Variables{"x": float64(1)},
		},
		{
			name:    "fence with prose around",
			reply:   "Here you go:\n```json\n{\"a\": \"1\", \"b\": [1, 2]}\n```\nThanks",
			outputs: []string{"a", "b"},
			want:    workflow.Variables{"a": "1", "b": []any{float64(1), float64(2)}},
		},
		{
			name:    "bare json object",
			reply:   `  {"a": true}  `,
			outputs: []string{"a"},
			want:    workflow.Variables{"a": true},
		},
		{
			name:    "missing key becomes empty",
			reply:   `{"a": 1}`,
			outputs: []string{"a", "b"},
			want:    workflow.Variables{"a": float64(1), "b": ""},
		},
		{
			name:    "extra keys dropped",
			reply:   `{"a": 1, "z": 2}`,
			outputs: []string{"a"},
			want:    workflow.Variables{"a": float64(1)},
		},
		{
			name:    "single output scalar json",
			reply:   "```json\n[1, 2]\n```",
			outputs: []string{"list"},
			want:    workflow.Variables{"list": []any{float64(1), float64(2)}},
		},
		{
			name:    "single output raw text",
			reply:   "plain answer",
			outputs: []string{"answer"},
			want:    workflow.Variables{"answer": "plain answer"},
		},
		{
			name:    "broken fence falls back to raw",
			reply:   "```json\n{broken\n```",
			outputs: []string{"answer"},
			want:    workflow.Variables{"answer": "```json\n{broken\n```"},
		},
		{
			name:    "no outputs",
			reply:   `{"a": 1}`,
			outputs: nil,
			want:    workflow.Variables{},
		},
		{
			name:    "multiple outputs need an object",
			reply:   "plain answer",
			outputs: []string{"a", "b"},
			wantErr: true,
		},
		{
			name:    "multiple outputs with array",
			reply:   `[1, 2]`,
			outputs: []string{"a", "b"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOutput("node", tt.reply, tt.outputs)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsInvalidOutput(err))
				assert.Equal(t, "node", types.ErrorSubject(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// 解析对象时，结果的键恰好是声明的输出变量
func TestParseOutput_KeysMatchDeclaredOutputs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		outputs := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,6}`), rapid.ID[string]).Draw(rt, "outputs")
		payload := rapid.MapOf(rapid.StringMatching(`[a-z]{1,6}`), rapid.String()).Draw(rt, "payload")

		raw, err := json.Marshal(payload)
		require.NoError(rt, err)
		got, err := ParseOutput("node", "```json\n"+string(raw)+"\n```", outputs)
		require.NoError(rt, err)

		assert.Len(rt, got, len(outputs))
		for _, name := range outputs {
			want, ok := payload[name]
			if !ok {
				want = ""
			}
			assert.Equal(rt, want, got[name])
		}
	})
}
