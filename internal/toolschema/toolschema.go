// Package toolschema registers and validates the JSON arguments a director
// or writer tool call carries, using github.com/google/jsonschema-go. A tool
// call naming an unregistered tool, or one whose arguments fail validation,
// is not fatal to a turn: it is logged and ignored, per the engine's
// recovery policy for unknown tool names and malformed arguments.
package toolschema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"

	"ifengine/internal/logging"
)

// Tool names the director and writer roles may invoke.
const (
	ToolPatchState            = "patch_state"
	ToolAddPlot               = "add_plot"
	ToolUpdatePlot            = "update_plot"
	ToolRemovePlot            = "remove_plot"
	ToolDetermineActionResult = "determine_action_result"
)

// PatchStateArgs is the argument shape for patch_state: a partial document
// deep-merged onto world state's state tree, one key at a time, recursively
// for nested objects.
type PatchStateArgs struct {
	PartialState map[string]any `json:"partial_state"`
}

// AddPlotArgs is the argument shape for add_plot: a new world-state Plot,
// scored by the director's assessment of how far it bends the story toward
// or away from the player's stated alignment.
type AddPlotArgs struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	PlayerAlignment float64 `json:"player_alignment"`
}

// UpdatePlotArgs is the argument shape for update_plot.
type UpdatePlotArgs struct {
	PlotID  string `json:"plot_id"`
	Updates struct {
		Title           *string  `json:"title,omitempty"`
		Description     *string  `json:"description,omitempty"`
		PlayerAlignment *float64 `json:"player_alignment,omitempty"`
	} `json:"updates"`
}

// RemovePlotArgs is the argument shape for remove_plot.
type RemovePlotArgs struct {
	PlotID string `json:"plot_id"`
}

// DetermineActionResultArgs is the argument shape for
// determine_action_result: the post-writer director's assessment of whether
// the player's declared action succeeded.
type DetermineActionResultArgs struct {
	ActionDescription string `json:"action_description"`
	Success           bool   `json:"success"`
	OutcomeNote       string `json:"outcome_note,omitempty"`
}

// Registry validates tool-call arguments against pre-resolved schemas
// derived from the Go argument types above.
type Registry struct {
	resolved map[string]*jsonschema.Resolved
}

// NewRegistry builds and resolves the schema for every registered tool. A
// failure here is a programmer error (a Go type jsonschema-go cannot
// reflect over), not a runtime condition, so it panics like an init-time
// regexp.MustCompile would.
func NewRegistry() *Registry {
	r := &Registry{resolved: make(map[string]*jsonschema.Resolved)}
	r.register(ToolPatchState, PatchStateArgs{})
	r.register(ToolAddPlot, AddPlotArgs{})
	r.register(ToolUpdatePlot, UpdatePlotArgs{})
	r.register(ToolRemovePlot, RemovePlotArgs{})
	r.register(ToolDetermineActionResult, DetermineActionResultArgs{})
	return r
}

func (r *Registry) register(name string, argShape any) {
	schema, err := jsonschema.ForType(reflect.TypeOf(argShape), nil)
	if err != nil {
		panic(fmt.Sprintf("toolschema: derive schema for %s: %v", name, err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("toolschema: resolve schema for %s: %v", name, err))
	}
	r.resolved[name] = resolved
}

// Names returns the registered tool names, in registration order, for
// building a ChatRequest's tool list.
func (r *Registry) Names() []string {
	return []string{ToolPatchState, ToolAddPlot, ToolUpdatePlot, ToolRemovePlot, ToolDetermineActionResult}
}

// Validate checks rawArgs (a tool call's raw JSON arguments) against the
// named tool's schema. An unregistered name is reported the same as a
// validation failure: both mean the caller should ignore the call, not
// treat it as fatal.
func (r *Registry) Validate(name string, rawArgs json.RawMessage) error {
	resolved, ok := r.resolved[name]
	if !ok {
		logging.ToolSchemaWarn("unknown tool %q, ignoring call", name)
		return fmt.Errorf("toolschema: unknown tool %q", name)
	}

	var instance any
	if err := json.Unmarshal(rawArgs, &instance); err != nil {
		logging.ToolSchemaWarn("tool %q: malformed json arguments: %v", name, err)
		return fmt.Errorf("toolschema: %s: malformed arguments: %w", name, err)
	}

	if err := resolved.Validate(instance); err != nil {
		logging.ToolSchemaWarn("tool %q: arguments failed schema validation: %v", name, err)
		return fmt.Errorf("toolschema: %s: %w", name, err)
	}
	return nil
}
