// Package session persists and restores a play session's full state to a
// single JSON file: the story tree, world state, undo/redo stacks, and the
// memory-bank/plot-card vector-store exports, the way the teacher's own
// chat package round-trips its session.json under a workspace's dot
// directory.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ifengine/internal/engine"
	"ifengine/internal/memorybank"
	"ifengine/internal/plotcards"
)

// Envelope is the on-disk session serialization: everything an Engine needs
// to resume exactly where it left off. It does not carry the configuration,
// which is loaded separately on each run.
type Envelope struct {
	SelectedNodeID string                `json:"selected_node_id"`
	StoryTree      json.RawMessage       `json:"story_tree"`
	WorldState     WorldState            `json:"world_state"`
	MemoryBank     json.RawMessage       `json:"memory_bank"`
	PlotCards      json.RawMessage       `json:"plot_cards"`
	UndoStack      []engine.EngineAction `json:"undo_stack"`
	RedoStack      []engine.EngineAction `json:"redo_stack"`
}

// WorldState mirrors world_state = {state, plots} from the document shapes
// the engine's delta diffing is applied to.
type WorldState struct {
	State map[string]any `json:"state"`
	Plots []engine.Plot  `json:"plots"`
}

// DefaultFileName is the session file name written under a session's data
// directory, mirroring the teacher's own "session.json" convention.
const DefaultFileName = "session.json"

// Save writes e's complete state, plus the memory bank's and plot index's
// vector-store exports, to path.
func Save(path string, e *engine.Engine, mem *memorybank.Bank, plots *plotcards.Index) error {
	treeJSON, err := e.Tree().Serialize()
	if err != nil {
		return fmt.Errorf("session: serialize tree: %w", err)
	}

	var memJSON, plotsJSON []byte
	if mem != nil {
		if memJSON, err = mem.Export(); err != nil {
			return fmt.Errorf("session: export memory bank: %w", err)
		}
	}
	if plots != nil {
		if plotsJSON, err = plots.Export(); err != nil {
			return fmt.Errorf("session: export plot cards: %w", err)
		}
	}

	env := Envelope{
		SelectedNodeID: e.Current(),
		StoryTree:      treeJSON,
		WorldState:     WorldState{State: e.State(), Plots: e.Plots()},
		MemoryBank:     memJSON,
		PlotCards:      plotsJSON,
		UndoStack:      e.UndoStack(),
		RedoStack:      e.RedoStack(),
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	return nil
}

// Load reads an Envelope from path. A missing file is not an error; callers
// should fall back to a fresh session.
func Load(path string) (*Envelope, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("session: read %s: %w", path, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("session: parse %s: %w", path, err)
	}
	return &env, true, nil
}

// Restore applies env onto e, and onto mem/plots via their vector-store
// exports, so the engine resumes exactly where Save left off.
func Restore(env *Envelope, e *engine.Engine, mem *memorybank.Bank, plots *plotcards.Index) error {
	if len(env.MemoryBank) > 0 && mem != nil {
		if err := mem.Import(env.MemoryBank); err != nil {
			return fmt.Errorf("session: restore memory bank: %w", err)
		}
	}
	if len(env.PlotCards) > 0 && plots != nil {
		if err := plots.Import(env.PlotCards); err != nil {
			return fmt.Errorf("session: restore plot cards: %w", err)
		}
	}
	e.Restore(env.SelectedNodeID, env.WorldState.State, env.WorldState.Plots, env.UndoStack, env.RedoStack)
	return nil
}
