package storytree

import (
	"encoding/json"
	"fmt"
	"sort"

	"ifengine/internal/delta"
)

// document is the ordered, JSON-shaped view of a Tree that Serialize
// produces and DeleteBranch diffs against. Nodes is a key-value list rather
// than a map so serialization order is deterministic.
type document struct {
	RootID string      `json:"root_id"`
	Nodes  []nodeEntry `json:"nodes"`
}

type nodeEntry struct {
	ID   string `json:"id"`
	Node *Node  `json:"node"`
}

// Serialize returns the tree's nodes, sorted by id, plus the root id, as
// JSON.
func (t *Tree) Serialize() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	doc := document{RootID: t.rootID}
	for id, n := range t.nodes {
		doc.Nodes = append(doc.Nodes, nodeEntry{ID: id, Node: n})
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	return json.Marshal(doc)
}

// Deserialize rebuilds a Tree from the output of Serialize.
func Deserialize(data []byte) (*Tree, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storytree: deserialize: %w", err)
	}
	if doc.RootID == "" {
		return nil, fmt.Errorf("storytree: deserialize: missing root_id")
	}

	nodes := make(map[string]*Node, len(doc.Nodes))
	for _, e := range doc.Nodes {
		nodes[e.ID] = e.Node
	}
	if _, ok := nodes[doc.RootID]; !ok {
		return nil, fmt.Errorf("storytree: deserialize: root_id %q not present among nodes", doc.RootID)
	}

	t := &Tree{nodes: nodes, rootID: doc.RootID}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// validate checks the tree invariants: exactly one root, every non-root
// parent resolves and lists the child back, and the graph is acyclic.
func (t *Tree) validate() error {
	for id, n := range t.nodes {
		if id == t.rootID {
			continue
		}
		parent, ok := t.nodes[n.ParentID]
		if !ok {
			return &ErrInvariantViolated{Reason: fmt.Sprintf("node %s has dangling parent %s", id, n.ParentID)}
		}
		found := false
		for _, c := range parent.ChildrenIDs {
			if c == id {
				found = true
				break
			}
		}
		if !found {
			return &ErrInvariantViolated{Reason: fmt.Sprintf("node %s missing from parent %s's children", id, n.ParentID)}
		}
	}

	for id := range t.nodes {
		seen := map[string]bool{}
		for cur := id; cur != t.rootID; cur = t.nodes[cur].ParentID {
			if seen[cur] {
				return &ErrInvariantViolated{Reason: "cycle detected walking to root"}
			}
			seen[cur] = true
		}
	}
	return nil
}

// Doc renders the tree as a generic map[string]any, the shape
// internal/delta diffs. Callers that need a Delta spanning a structural
// mutation (add/edit/update/delete) call Doc before and after and diff the
// two with delta.BuildDelta, the same technique DeleteBranch uses
// internally.
func (t *Tree) Doc() (map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.toDocLocked()
}

// toDocLocked renders the tree as a generic map[string]any, the shape
// internal/delta diffs. Caller must hold t.mu.
func (t *Tree) toDocLocked() (map[string]any, error) {
	doc := document{RootID: t.rootID}
	for id, n := range t.nodes {
		doc.Nodes = append(doc.Nodes, nodeEntry{ID: id, Node: n})
	}
	return delta.MarshalJSONRoundTrip(doc)
}
