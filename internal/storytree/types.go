// Package storytree implements the branching turn history a play session
// grows: one root and, from it, a tree of player/writer turns connected by
// the delta pairs that produced them. Time-travel between branches is
// expressed as walking this tree and replaying/reverting the deltas along
// the path, not as a separate data structure.
package storytree

import (
	"fmt"

	"ifengine/internal/delta"
)

// Actor names who authored a Turn's text.
type Actor string

const (
	ActorPlayer Actor = "player"
	ActorWriter Actor = "writer"
)

// Turn is the content of a single node: what was said, and, for writer
// turns, the director's private reasoning that produced it.
type Turn struct {
	Actor            Actor  `json:"actor"`
	Text             string `json:"text"`
	DirectorThinking string `json:"director_thinking,omitempty"`
}

// Node is one point in the story tree. ChildrenIDs preserves insertion
// order: it is both the branch list and the sibling ordering switch/select
// navigate over.
type Node struct {
	ID          string        `json:"id"`
	ParentID    string        `json:"parent_id"`
	ChildrenIDs []string      `json:"children_ids"`
	Turn        Turn          `json:"turn"`
	Deltas      []delta.Delta `json:"deltas"`
}

// ErrRootBranch is returned when an operation that forbids targeting the
// root node (delete_branch, erase) is asked to do so anyway.
type ErrRootBranch struct{}

func (e *ErrRootBranch) Error() string { return "storytree: operation forbidden on the root node" }

// ErrNotFound is returned when a node id does not resolve.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("storytree: node %q not found", e.ID) }

// ErrInvariantViolated is returned when a tree is found to break an
// invariant (dangling parent, missing child link, cycle).
type ErrInvariantViolated struct{ Reason string }

func (e *ErrInvariantViolated) Error() string {
	return fmt.Sprintf("storytree: invariant violated: %s", e.Reason)
}
