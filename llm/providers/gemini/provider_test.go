package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/config2flow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestProvider_Completion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotNil(t, body["systemInstruction"])
		contents := body["contents"].([]any)
		require.Len(t, contents, 2)
		assert.Equal(t, "model", contents[1].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"bonjour"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1,"totalTokenCount":5}}`)
	}))
	t.Cleanup(server.Close)

	p, err := New(context.Background(), Config{APIKey: "g-key", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "translate to french"},
			{Role: llm.RoleUser, Content: "hello"},
			{Role: llm.RoleAssistant, Content: "salut"},
		},
	})
	require.NoError(t, err)
	msg, err := resp.FirstMessage()
	require.NoError(t, err)
	assert.Equal(t, "bonjour", msg.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "description": "input"},
		},
		"required": []any{"text"},
	})
	require.NotNil(t, s)
	assert.Equal(t, "OBJECT", string(s.Type))
	assert.Equal(t, "STRING", string(s.Properties["text"].Type))
	assert.Equal(t, []string{"text"}, s.Required)
	assert.Nil(t, toGenaiSchema(nil))
}
