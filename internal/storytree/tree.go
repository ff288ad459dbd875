package storytree

import (
	"sync"

	"github.com/google/uuid"

	"ifengine/internal/delta"
	"ifengine/internal/logging"
)

// Tree holds every node reachable from a single root, keyed by id.
type Tree struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	rootID string
}

// New creates a tree with a single root node holding rootTurn.
func New(rootTurn Turn) *Tree {
	id := uuid.New().String()
	root := &Node{ID: id, ParentID: "", ChildrenIDs: []string{}, Turn: rootTurn}
	t := &Tree{nodes: map[string]*Node{id: root}, rootID: id}
	logging.StoryTree("created tree, root=%s", id)
	return t
}

// AddNode appends a new child of parentID holding turn and deltas, returning
// the created node. Deltas are the DeltaPair(s) that produced this turn.
func (t *Tree) AddNode(parentID string, turn Turn, deltas []delta.Delta) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, &ErrNotFound{ID: parentID}
	}

	id := uuid.New().String()
	node := &Node{
		ID:          id,
		ParentID:    parentID,
		ChildrenIDs: []string{},
		Turn:        turn,
		Deltas:      deltas,
	}
	t.nodes[id] = node
	parent.ChildrenIDs = append(parent.ChildrenIDs, id)

	logging.StoryTreeDebug("add_node id=%s parent=%s actor=%s", id, parentID, turn.Actor)
	return node, nil
}

// EditNode replaces a node's turn text in place, leaving its deltas and
// position untouched.
func (t *Tree) EditNode(id string, newTurn Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	node.Turn = newTurn
	logging.StoryTreeDebug("edit_node id=%s", id)
	return nil
}

// UpdateNode replaces both a node's turn and its deltas, used when an edited
// writer node's post-writer director reassessment is re-run.
func (t *Tree) UpdateNode(id string, newTurn Turn, newDeltas []delta.Delta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	node.Turn = newTurn
	node.Deltas = newDeltas
	logging.StoryTreeDebug("update_node id=%s deltas=%d", id, len(newDeltas))
	return nil
}

// DeleteBranch removes id and every descendant, DFS leaf-first, and detaches
// id from its parent's children. It is forbidden on the root. The returned
// Delta's Revert half restores the tree's serialized shape to exactly what
// it was before the call; Apply reproduces the deletion.
func (t *Tree) DeleteBranch(id string) ([]*Node, delta.Delta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == t.rootID {
		return nil, delta.Delta{}, &ErrRootBranch{}
	}
	node, ok := t.nodes[id]
	if !ok {
		return nil, delta.Delta{}, &ErrNotFound{ID: id}
	}

	before, err := t.toDocLocked()
	if err != nil {
		return nil, delta.Delta{}, err
	}

	order := t.dfsLeafFirstLocked(id)
	deleted := make([]*Node, 0, len(order))
	for _, nid := range order {
		deleted = append(deleted, t.nodes[nid])
		delete(t.nodes, nid)
	}

	if parent, ok := t.nodes[node.ParentID]; ok {
		parent.ChildrenIDs = removeString(parent.ChildrenIDs, id)
	}

	after, err := t.toDocLocked()
	if err != nil {
		return nil, delta.Delta{}, err
	}

	d, _, err := delta.BuildDelta(before, func(map[string]any) (map[string]any, error) {
		return after, nil
	})
	if err != nil {
		return nil, delta.Delta{}, err
	}

	logging.StoryTree("delete_branch id=%s removed=%d", id, len(deleted))
	return deleted, d, nil
}

// dfsLeafFirstLocked returns id and every descendant of id, ordered so that
// every child appears before its parent (post-order). Caller must hold t.mu.
func (t *Tree) dfsLeafFirstLocked(id string) []string {
	var order []string
	var visit func(string)
	visit = func(nid string) {
		n, ok := t.nodes[nid]
		if !ok {
			return
		}
		for _, c := range n.ChildrenIDs {
			visit(c)
		}
		order = append(order, nid)
	}
	visit(id)
	return order
}

// GetNode returns the node with the given id.
func (t *Tree) GetNode(id string) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return node, nil
}

// GetRootNode returns the tree's single root.
func (t *Tree) GetRootNode() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[t.rootID]
}

// RootID returns the root node's id.
func (t *Tree) RootID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// GetPathToNode returns the root-first chain of nodes from the root to id,
// inclusive of both ends.
func (t *Tree) GetPathToNode(id string) ([]*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.nodes[id]; !ok {
		return nil, &ErrNotFound{ID: id}
	}

	var reversed []*Node
	cur := id
	for {
		n, ok := t.nodes[cur]
		if !ok {
			return nil, &ErrInvariantViolated{Reason: "dangling parent id " + cur}
		}
		reversed = append(reversed, n)
		if cur == t.rootID {
			break
		}
		cur = n.ParentID
	}

	path := make([]*Node, len(reversed))
	for i, n := range reversed {
		path[len(reversed)-1-i] = n
	}
	return path, nil
}

// GetDepth returns id's depth, where the root has depth 1.
func (t *Tree) GetDepth(id string) (int, error) {
	path, err := t.GetPathToNode(id)
	if err != nil {
		return 0, err
	}
	return len(path), nil
}

// GetRecentTurns returns up to n turns ending at id, root-first order,
// nearest-first would invert the useful ordering for prompt building so
// this returns them in chronological (root-first) order like GetPathToNode.
func (t *Tree) GetRecentTurns(id string, n int) ([]Turn, error) {
	path, err := t.GetPathToNode(id)
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(path) {
		path = path[len(path)-n:]
	}
	turns := make([]Turn, len(path))
	for i, node := range path {
		turns[i] = node.Turn
	}
	return turns, nil
}

// GetNodesAtTurn returns the BFS frontier of nodes at depth d (root is
// depth 1).
func (t *Tree) GetNodesAtTurn(d int) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if d < 1 {
		return nil
	}

	frontier := []*Node{t.nodes[t.rootID]}
	depth := 1
	for depth < d {
		var next []*Node
		for _, n := range frontier {
			for _, cid := range n.ChildrenIDs {
				if c, ok := t.nodes[cid]; ok {
					next = append(next, c)
				}
			}
		}
		frontier = next
		depth++
		if len(frontier) == 0 {
			return nil
		}
	}
	return frontier
}

// GetDeepestNode returns the deepest node in the tree. Ties are broken by
// BFS discovery order: the first node found at the maximum depth wins.
func (t *Tree) GetDeepestNode() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	frontier := []*Node{t.nodes[t.rootID]}
	var deepest *Node
	for len(frontier) > 0 {
		deepest = frontier[0]
		var next []*Node
		for _, n := range frontier {
			for _, cid := range n.ChildrenIDs {
				if c, ok := t.nodes[cid]; ok {
					next = append(next, c)
				}
			}
		}
		frontier = next
	}
	return deepest
}

// LowestCommonAncestor returns the id of the lowest node that is an
// ancestor of both a and b (an ancestor of itself included).
func (t *Tree) LowestCommonAncestor(a, b string) (string, error) {
	pathA, err := t.GetPathToNode(a)
	if err != nil {
		return "", err
	}
	pathB, err := t.GetPathToNode(b)
	if err != nil {
		return "", err
	}

	inA := make(map[string]bool, len(pathA))
	for _, n := range pathA {
		inA[n.ID] = true
	}

	lca := t.rootID
	for _, n := range pathB {
		if inA[n.ID] {
			lca = n.ID
		} else {
			break
		}
	}
	return lca, nil
}

func removeString(s []string, target string) []string {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
