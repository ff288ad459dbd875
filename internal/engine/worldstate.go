package engine

import (
	"fmt"

	"github.com/google/uuid"

	"ifengine/internal/delta"
)

// Plot is a persistent, alignment-scored narrative thread tracked in world
// state, created and retired independently of the free-form state tree.
// Distinct from plotcards.PlotCard, the separate keyword/semantic lore index
// the retrieval context (not the director's world-state tools) addresses.
type Plot struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Alignment     float64 `json:"alignment"`
	CreatedAtTurn int     `json:"created_at_turn"`
}

// PlotUpdate carries the optional fields update_plot may change; a nil field
// leaves the existing value untouched.
type PlotUpdate struct {
	Title       *string
	Description *string
	Alignment   *float64
}

// ErrPlotNotFound is returned when update_plot or remove_plot addresses an
// id absent from world state's plot sequence.
type ErrPlotNotFound struct{ ID string }

func (e *ErrPlotNotFound) Error() string { return fmt.Sprintf("engine: plot %q not found", e.ID) }

// newWorldDoc builds the {state, plots} document shape world state is always
// diffed and stored as, from an already-parsed state map and plot sequence.
func newWorldDoc(state map[string]any, plots []Plot) map[string]any {
	if state == nil {
		state = map[string]any{}
	}
	list := make([]any, len(plots))
	for i, p := range plots {
		list[i] = plotToMap(p)
	}
	return map[string]any{"state": state, "plots": list}
}

func plotToMap(p Plot) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"title":           p.Title,
		"description":     p.Description,
		"alignment":       p.Alignment,
		"created_at_turn": p.CreatedAtTurn,
	}
}

func plotFromMap(m map[string]any) Plot {
	p := Plot{}
	if v, ok := m["id"].(string); ok {
		p.ID = v
	}
	if v, ok := m["title"].(string); ok {
		p.Title = v
	}
	if v, ok := m["description"].(string); ok {
		p.Description = v
	}
	switch v := m["alignment"].(type) {
	case float64:
		p.Alignment = v
	case int:
		p.Alignment = float64(v)
	}
	switch v := m["created_at_turn"].(type) {
	case int:
		p.CreatedAtTurn = v
	case float64:
		p.CreatedAtTurn = int(v)
	}
	return p
}

// State returns world state's free-form state tree, for session
// serialization. Callers must not mutate the returned map.
func (e *Engine) State() map[string]any {
	s, _ := e.world["state"].(map[string]any)
	return s
}

// Plots returns world state's current plot sequence, for session
// serialization.
func (e *Engine) Plots() []Plot {
	list, _ := e.world["plots"].([]any)
	out := make([]Plot, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, plotFromMap(m))
		}
	}
	return out
}

// DeepSet sets a single path within world state's state tree, auto-vivifying
// intermediate objects, and returns the delta pair recording the change.
// path is state-relative ("player/hp"), not a document-rooted pointer.
func (e *Engine) DeepSet(path string, value any) (delta.Delta, error) {
	d, after, err := delta.BuildDelta(e.world, func(doc map[string]any) (map[string]any, error) {
		return delta.Apply(doc, delta.Delta{Apply: []delta.Op{
			{Kind: delta.OpAdd, Path: "/state/" + path, Value: value},
		}})
	})
	if err != nil {
		return delta.Delta{}, fmt.Errorf("engine: deep_set %q: %w", path, err)
	}
	e.world = after
	return d, nil
}

// PatchState deep-merges partial into world state's state tree: maps merge
// key by key recursively, any other value (including a list) replaces
// whatever was at that key outright.
func (e *Engine) PatchState(partial map[string]any) (delta.Delta, error) {
	d, after, err := delta.BuildDelta(e.world, func(doc map[string]any) (map[string]any, error) {
		state, _ := doc["state"].(map[string]any)
		if state == nil {
			state = map[string]any{}
		}
		deepMergeInto(state, partial)
		doc["state"] = state
		return doc, nil
	})
	if err != nil {
		return delta.Delta{}, fmt.Errorf("engine: patch_state: %w", err)
	}
	e.world = after
	return d, nil
}

func deepMergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMergeInto(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// AddPlot appends a new Plot to world state's plot sequence and returns it
// alongside the delta pair recording the addition.
func (e *Engine) AddPlot(title, description string, alignment float64, createdAtTurn int) (Plot, delta.Delta, error) {
	p := Plot{ID: uuid.New().String(), Title: title, Description: description, Alignment: alignment, CreatedAtTurn: createdAtTurn}
	d, after, err := delta.BuildDelta(e.world, func(doc map[string]any) (map[string]any, error) {
		return delta.Apply(doc, delta.Delta{Apply: []delta.Op{
			{Kind: delta.OpAdd, Path: "/plots/-", Value: plotToMap(p)},
		}})
	})
	if err != nil {
		return Plot{}, delta.Delta{}, fmt.Errorf("engine: add_plot: %w", err)
	}
	e.world = after
	return p, d, nil
}

// UpdatePlot replaces the named fields of the plot addressed by id and
// returns the delta pair recording the change.
func (e *Engine) UpdatePlot(id string, updates PlotUpdate) (delta.Delta, error) {
	d, after, err := delta.BuildDelta(e.world, func(doc map[string]any) (map[string]any, error) {
		list, _ := doc["plots"].([]any)
		for i, v := range list {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["id"].(string); !ok || s != id {
				continue
			}
			p := plotFromMap(m)
			if updates.Title != nil {
				p.Title = *updates.Title
			}
			if updates.Description != nil {
				p.Description = *updates.Description
			}
			if updates.Alignment != nil {
				p.Alignment = *updates.Alignment
			}
			list[i] = plotToMap(p)
			doc["plots"] = list
			return doc, nil
		}
		return nil, &ErrPlotNotFound{ID: id}
	})
	if err != nil {
		return delta.Delta{}, fmt.Errorf("engine: update_plot: %w", err)
	}
	e.world = after
	return d, nil
}

// RemovePlot removes the plot addressed by id from world state and returns
// the delta pair recording the removal.
func (e *Engine) RemovePlot(id string) (delta.Delta, error) {
	d, after, err := delta.BuildDelta(e.world, func(doc map[string]any) (map[string]any, error) {
		return delta.Apply(doc, delta.Delta{Apply: []delta.Op{
			{Kind: delta.OpRemove, Path: "/plots/id:" + id},
		}})
	})
	if err != nil {
		return delta.Delta{}, fmt.Errorf("engine: remove_plot: %w", err)
	}
	e.world = after
	return d, nil
}
