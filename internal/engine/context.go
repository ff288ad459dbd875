package engine

import (
	"context"
	"fmt"
	"strings"

	"ifengine/internal/chatprovider"
	"ifengine/internal/memorybank"
	"ifengine/internal/plotcards"
	"ifengine/internal/storytree"
	"ifengine/internal/toolschema"
)

func turnsToMessages(turns []storytree.Turn) []chatprovider.Message {
	messages := make([]chatprovider.Message, len(turns))
	for i, t := range turns {
		role := chatprovider.RoleUser
		if t.Actor == storytree.ActorWriter {
			role = chatprovider.RoleAssistant
		}
		messages[i] = chatprovider.Message{Role: role, Content: t.Text}
	}
	return messages
}

func formatPlotCards(cards []*plotcards.PlotCard) string {
	var b strings.Builder
	for _, c := range cards {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", c.Category, c.Name, c.Content)
	}
	return b.String()
}

func formatMemories(mems []*memorybank.Memory) string {
	var b strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&b, "- %s\n", m.Text)
	}
	return b.String()
}

// toolDefinitions declares the five director tools, matching the argument
// shapes internal/toolschema validates against.
func toolDefinitions() []chatprovider.ToolDefinition {
	return []chatprovider.ToolDefinition{
		{
			Name:        toolschema.ToolPatchState,
			Description: "Deep-merge a partial document onto world state's state tree.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"partial_state": map[string]any{"type": "object"},
				},
				"required": []string{"partial_state"},
			},
		},
		{
			Name:        toolschema.ToolAddPlot,
			Description: "Add a new narrative plot thread to world state.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":            map[string]any{"type": "string"},
					"description":      map[string]any{"type": "string"},
					"player_alignment": map[string]any{"type": "number"},
				},
				"required": []string{"title", "description", "player_alignment"},
			},
		},
		{
			Name:        toolschema.ToolUpdatePlot,
			Description: "Update fields of an existing world-state plot.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"plot_id": map[string]any{"type": "string"},
					"updates": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":            map[string]any{"type": "string"},
							"description":      map[string]any{"type": "string"},
							"player_alignment": map[string]any{"type": "number"},
						},
					},
				},
				"required": []string{"plot_id", "updates"},
			},
		},
		{
			Name:        toolschema.ToolRemovePlot,
			Description: "Remove a world-state plot by id.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"plot_id": map[string]any{"type": "string"}},
				"required":   []string{"plot_id"},
			},
		},
		{
			Name:        toolschema.ToolDetermineActionResult,
			Description: "Assess whether the player's declared action succeeded.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action_description": map[string]any{"type": "string"},
					"success":            map[string]any{"type": "boolean"},
					"outcome_note":       map[string]any{"type": "string"},
				},
				"required": []string{"action_description", "success"},
			},
		},
	}
}

// buildDirectorContext assembles the director's pre-writer prompt: recent
// history, the player's declared action, and any plot cards or memories the
// action's text surfaces.
func (e *Engine) buildDirectorContext(ctx context.Context, playerText string) chatprovider.ChatRequest {
	turns, _ := e.tree.GetRecentTurns(e.current, 20)
	messages := turnsToMessages(turns)
	messages = append(messages, chatprovider.Message{Role: chatprovider.RoleUser, Content: playerText})

	systemPrompt := e.enrichSystemPrompt(ctx, e.cfg.DirectorSystemPrompt, playerText)
	return chatprovider.ChatRequest{SystemPrompt: systemPrompt, Messages: messages, Tools: toolDefinitions()}
}

// buildWriterContext assembles the writer's prompt from the tree state as
// it stands after the player node (or, for continue, the current node) has
// been appended.
func (e *Engine) buildWriterContext() chatprovider.ChatRequest {
	turns, _ := e.tree.GetRecentTurns(e.current, 20)
	messages := turnsToMessages(turns)
	return chatprovider.ChatRequest{SystemPrompt: e.cfg.WriterSystemPrompt, Messages: messages}
}

// buildPostWriterDirectorContext assembles the director's second pass,
// which assesses the writer's narration and may issue further patches.
func (e *Engine) buildPostWriterDirectorContext(writerText string) chatprovider.ChatRequest {
	turns, _ := e.tree.GetRecentTurns(e.current, 20)
	messages := turnsToMessages(turns)
	messages = append(messages, chatprovider.Message{Role: chatprovider.RoleAssistant, Content: writerText})
	return chatprovider.ChatRequest{SystemPrompt: e.cfg.DirectorSystemPrompt, Messages: messages, Tools: toolDefinitions()}
}

func (e *Engine) enrichSystemPrompt(ctx context.Context, base, query string) string {
	prompt := base
	if e.plots != nil {
		if cards, err := e.plots.Search(ctx, query, 5); err == nil && len(cards) > 0 {
			prompt += "\n\nRelevant plot cards:\n" + formatPlotCards(cards)
		}
	}
	if e.memory != nil {
		if mems, err := e.memory.Search(ctx, query, e.turnCounter, 5); err == nil && len(mems) > 0 {
			prompt += "\n\nRelevant memories:\n" + formatMemories(mems)
		}
	}
	return prompt
}
