package chatprovider

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ChatStream spawns a background goroutine per call to drain the backend's
// stream into a channel; TestMain guards against leaking one across tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_RejectsEmptyProviderOrModel(t *testing.T) {
	_, err := New("", "gpt-4o")
	assert.Error(t, err)

	_, err = New("openai", "")
	assert.Error(t, err)
}

func TestNew_RejectsUnsupportedProvider(t *testing.T) {
	_, err := New("carrier-pigeon", "v1")
	assert.Error(t, err)
}

func TestNewOllama_BuildsProviderWithName(t *testing.T) {
	p, err := NewOllama("llama3.2")
	require.NoError(t, err)
	assert.Equal(t, "ollama:llama3.2", p.Name())
}

func TestBuildParams_IncludesSystemPromptAndTools(t *testing.T) {
	p := &anyllmProvider{model: "llama3.2"}
	req := ChatRequest{
		SystemPrompt: "you are the director",
		Messages: []Message{
			{Role: RoleUser, Content: "the player opens the door"},
		},
		Tools: []ToolDefinition{
			{Name: "patch_state", Description: "apply a world-state patch", Parameters: map[string]any{"type": "object"}},
		},
		Temperature: 0.7,
		MaxTokens:   512,
	}

	params := p.buildParams(req)
	require.Len(t, params.Messages, 2)
	assert.Equal(t, anyllmlib.RoleSystem, params.Messages[0].Role)
	assert.Equal(t, "you are the director", params.Messages[0].Content)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "patch_state", params.Tools[0].Function.Name)
	require.NotNil(t, params.Temperature)
	assert.InDelta(t, 0.7, *params.Temperature, 1e-9)
	require.NotNil(t, params.MaxTokens)
	assert.Equal(t, 512, *params.MaxTokens)
}

func TestConvertMessage_CarriesToolCalls(t *testing.T) {
	m := Message{
		Role:    RoleAssistant,
		Content: "",
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "add_plot", Arguments: `{"name":"locked door"}`},
		},
	}

	converted := convertMessage(m)
	require.Len(t, converted.ToolCalls, 1)
	assert.Equal(t, "call_1", converted.ToolCalls[0].ID)
	assert.Equal(t, "add_plot", converted.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"name":"locked door"}`, converted.ToolCalls[0].Function.Arguments)
}
