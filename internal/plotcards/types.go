// Package plotcards indexes reusable story fixtures (items, characters,
// locations, rules) the writer and director can be reminded of either by an
// exact keyword trigger in the current prompt or by semantic similarity to
// it.
package plotcards

import "fmt"

// PlotCard is one reusable fixture. TriggerKeyword, when non-empty, forces
// this card into search results whenever the query text contains it
// case-insensitively, regardless of semantic similarity.
type PlotCard struct {
	ID             int64  `json:"id"`
	Category       string `json:"category"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	TriggerKeyword string `json:"trigger_keyword"`
}

// triggerScore is the sentinel rank assigned to a keyword-triggered card, a
// value strictly greater than any cosine similarity a unit vector search
// can produce.
const triggerScore = 2.0

// ErrNotFound is returned when a plot card id does not resolve.
type ErrNotFound struct{ ID int64 }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("plotcards: card %d not found", e.ID) }
