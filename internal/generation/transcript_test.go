// ABOUTME: Tests for transcript rendering and the Anthropic generator.
// ABOUTME: Covers role alternation, tool round-trips, and API error surfacing.

package generation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

func roles(msgs []message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.role
	}
	return out
}

func TestTranscript_MergesAndDropsLeadingAssistant(t *testing.T) {
	prompt := executor.PromptContext{
		History: []executor.HistoryTurn{
			{Role: "assistant", Content: "welcome"},
			{Role: "user", Content: "first"},
			{Role: "user", Content: "second"},
			{Role: "assistant", Content: "reply"},
		},
		Message: "now",
	}

	msgs := transcript(prompt)
	assert.Equal(t, []string{"user", "assistant", "user"}, roles(msgs))
	assert.Equal(t, "first\n\nsecond", msgs[0].text)
	assert.Equal(t, "now", msgs[2].text)
}

func TestTranscript_ToolRounds(t *testing.T) {
	call := executor.ToolCall{ID: "c1", Name: "list_tasks", Input: json.RawMessage(`{}`)}
	prompt := executor.PromptContext{
		Message: "show tasks",
		Rounds: []executor.Exchange{
			{
				Text:     "Looking.",
				Calls:    []executor.ToolCall{call},
				Outcomes: []executor.ToolOutcome{{CallID: "c1", Name: "list_tasks", Output: json.RawMessage(`{"count":0}`)}},
			},
			{Text: "Thinking out loud"},
			{},
		},
	}

	msgs := transcript(prompt)
	assert.Equal(t, []string{"user", "assistant", "user", "assistant", "user"}, roles(msgs))
	assert.Equal(t, []executor.ToolCall{call}, msgs[1].calls)
	require.Len(t, msgs[2].outcomes, 1)
	assert.Equal(t, "c1", msgs[2].outcomes[0].CallID)
	assert.Equal(t, "Continue.", msgs[4].text)
}

func TestToolParam(t *testing.T) {
	tool, err := toolParam(executor.ToolSpec{
		Name:        "get_task",
		Description: "fetch",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "get_task", tool.Name)
	assert.Equal(t, []string{"id"}, tool.InputSchema.Required)

	_, err = toolParam(executor.ToolSpec{Name: "bad", InputSchema: json.RawMessage(`[`)})
	assert.Error(t, err)
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(Settings{Provider: ProviderAnthropic}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNew_Providers(t *testing.T) {
	gen, err := New(Settings{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, gen)

	gen, err = New(Settings{Provider: ProviderAnthropic, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, gen)

	_, err = New(Settings{Provider: "llama"}, nil)
	assert.Error(t, err)
}

func TestAnthropic_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer srv.Close()

	gen, err := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: -1}, nil)
	require.NoError(t, err)

	def, err := agent.NewDefaultRegistry(nil).Get(agent.KindTasks)
	require.NoError(t, err)

	var gotErr error
	for _, err := range gen.Generate(t.Context(), executor.PromptContext{Agent: def, Message: "hi"}) {
		if err != nil {
			gotErr = err
		}
	}
	assert.Error(t, gotErr)
}

func TestSystemPrompt_ClientContext(t *testing.T) {
	prompt := executor.PromptContext{Agent: agent.Definition{Instructions: "Be brief."}}
	assert.Equal(t, "Be brief.", systemPrompt(prompt))

	prompt.Client = executor.ClientContext{City: "Lisbon", Country: "PT", Timezone: "Europe/Lisbon"}
	assert.Equal(t,
		"Be brief.\n\nUser context: located in Lisbon, PT. Timezone Europe/Lisbon.",
		systemPrompt(prompt))
}
