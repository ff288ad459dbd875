package engine

import (
	"context"
	"fmt"

	"ifengine/internal/delta"
	"ifengine/internal/storytree"
	"ifengine/internal/telemetry"
)

// nodeDelta merges a node's own delta list (the tool-call deltas that
// produced it) into the single Delta representing its net effect on world
// state.
func nodeDelta(n *storytree.Node) delta.Delta {
	return mergeDeltas(n.Deltas...)
}

// invertDelta swaps a delta's Apply and Revert halves, letting a node's
// forward contribution be composed as a backward step when walking toward
// an ancestor.
func invertDelta(d delta.Delta) delta.Delta {
	return delta.Delta{Apply: d.Revert, Revert: d.Apply}
}

func indexOfNode(path []*storytree.Node, id string) int {
	for i, n := range path {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// selectInternal moves the current position to target by reverting world
// state back through the current node's ancestors up to their lowest
// common ancestor with target, then applying it forward down to target. It
// returns the single Delta representing that whole move, both directions,
// and leaves e.current at target on success. Caller must hold e.mu.
func (e *Engine) selectInternal(target string) (delta.Delta, error) {
	if _, err := e.tree.GetNode(target); err != nil {
		return delta.Delta{}, err
	}
	lca, err := e.tree.LowestCommonAncestor(e.current, target)
	if err != nil {
		return delta.Delta{}, err
	}

	upPath, err := e.tree.GetPathToNode(e.current)
	if err != nil {
		return delta.Delta{}, err
	}
	downPath, err := e.tree.GetPathToNode(target)
	if err != nil {
		return delta.Delta{}, err
	}

	lcaUpIdx := indexOfNode(upPath, lca)
	lcaDownIdx := indexOfNode(downPath, lca)

	var steps []delta.Delta
	for i := len(upPath) - 1; i > lcaUpIdx; i-- {
		steps = append(steps, invertDelta(nodeDelta(upPath[i])))
	}
	for i := lcaDownIdx + 1; i < len(downPath); i++ {
		steps = append(steps, nodeDelta(downPath[i]))
	}

	combined := mergeDeltas(steps...)
	after, err := delta.Apply(e.world, combined)
	if err != nil {
		return delta.Delta{}, fmt.Errorf("engine: select: %w", err)
	}
	e.world = after
	e.current = target
	return combined, nil
}

// doSelect wraps selectInternal as one undoable EngineAction. Caller must
// hold e.mu.
func (e *Engine) doSelect(target string, kind ActionKind) (*EngineAction, error) {
	from := e.current
	combined, err := e.selectInternal(target)
	if err != nil {
		return nil, err
	}
	action := EngineAction{Kind: kind, FromNodeID: from, ToNodeID: target, Deltas: Deltas{Game: &combined}}
	e.pushUndo(action)
	telemetry.DefaultMetrics().RecordNavigation(context.Background(), string(kind), "ok")
	return &action, nil
}

// Select moves the current position to target, replaying or reverting the
// deltas of every node between the two along their common ancestor.
func (e *Engine) Select(target string) (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doSelect(target, KindSelect)
}

// Switch cycles the current node's selection among its parent's other
// children, wrapping around, and delegates the move itself to Select.
func (e *Engine) Switch(direction string) (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, err := e.tree.GetNode(e.current)
	if err != nil {
		return nil, err
	}
	if node.ParentID == "" {
		return nil, &ErrRootBranch{}
	}
	parent, err := e.tree.GetNode(node.ParentID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, id := range parent.ChildrenIDs {
		if id == e.current {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, &storytree.ErrInvariantViolated{Reason: "current node missing from its parent's children"}
	}

	var next int
	switch direction {
	case "next":
		next = (idx + 1) % len(parent.ChildrenIDs)
	case "prev":
		next = (idx - 1 + len(parent.ChildrenIDs)) % len(parent.ChildrenIDs)
	default:
		return nil, fmt.Errorf("engine: switch: unknown direction %q", direction)
	}

	return e.doSelect(parent.ChildrenIDs[next], KindSelect)
}

// Erase deletes id's whole branch and moves the current position to its
// parent. id must be the current node: erase always removes the branch the
// session is presently on, never an arbitrary one elsewhere in the tree.
func (e *Engine) Erase(id string) (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id != e.current {
		return nil, fmt.Errorf("engine: erase: %q is not the current node", id)
	}
	node, err := e.tree.GetNode(id)
	if err != nil {
		return nil, err
	}
	if node.ParentID == "" {
		return nil, &ErrRootBranch{}
	}
	parentID := node.ParentID

	from := id
	selectDelta, err := e.selectInternal(parentID)
	if err != nil {
		return nil, err
	}

	_, branchDelta, err := e.tree.DeleteBranch(id)
	if err != nil {
		return nil, err
	}

	action := EngineAction{
		Kind:       KindErase,
		FromNodeID: from,
		ToNodeID:   parentID,
		Deltas:     Deltas{Tree: &branchDelta, Game: &selectDelta},
	}
	e.pushUndo(action)
	telemetry.DefaultMetrics().RecordNavigation(context.Background(), string(KindErase), "ok")
	return &action, nil
}

// Retry re-runs only the writer half of the pipeline for a writer node,
// producing a new sibling from the same parent and leaving the original
// subtree untouched. id must name a writer turn.
func (e *Engine) Retry(ctx context.Context, id string) (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, err := e.tree.GetNode(id)
	if err != nil {
		return nil, err
	}
	if node.Turn.Actor != storytree.ActorWriter {
		return nil, &ErrNoWriterNode{ID: id}
	}
	parentID := node.ParentID

	from := e.current
	selectDelta, err := e.selectInternal(parentID)
	if err != nil {
		return nil, err
	}

	treeBefore, err := e.tree.Doc()
	if err != nil {
		return nil, fmt.Errorf("engine: retry: snapshot tree: %w", err)
	}

	writerReq := e.buildWriterContext()
	writerResp, err := e.callChat(ctx, "writer:retry", writerReq)
	if err != nil {
		return nil, fmt.Errorf("engine: retry: writer call: %w", err)
	}

	postReq := e.buildPostWriterDirectorContext(writerResp.Content)
	postResp, err := e.callChat(ctx, "director:post-writer-retry", postReq)
	if err != nil {
		return nil, fmt.Errorf("engine: retry: post-writer director call: %w", err)
	}
	postDeltas := e.processToolCalls(ctx, postResp.ToolCalls)

	newNode, err := e.tree.AddNode(parentID, storytree.Turn{
		Actor: storytree.ActorWriter, Text: writerResp.Content, DirectorThinking: postResp.Content,
	}, postDeltas)
	if err != nil {
		return nil, fmt.Errorf("engine: retry: append node: %w", err)
	}
	e.current = newNode.ID

	treeAfter, err := e.tree.Doc()
	if err != nil {
		return nil, fmt.Errorf("engine: retry: snapshot tree: %w", err)
	}
	treeDelta, _, err := delta.BuildDelta(treeBefore, func(map[string]any) (map[string]any, error) {
		return treeAfter, nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: retry: diff tree: %w", err)
	}

	gameDelta := mergeDeltas(selectDelta, mergeDeltas(postDeltas...))
	action := EngineAction{
		Kind:       KindRetry,
		FromNodeID: from,
		ToNodeID:   newNode.ID,
		Deltas:     Deltas{Tree: &treeDelta, Game: &gameDelta},
	}
	e.pushUndo(action)
	telemetry.DefaultMetrics().RecordNavigation(context.Background(), string(KindRetry), "ok")
	return &action, nil
}

// Edit rewrites a node's text in place. For a player turn this only
// changes the recorded text. For a writer turn it also reverts the deltas
// that turn produced and re-runs the post-writer director assessment
// against the new text, since the world-state consequences of a writer
// turn follow from what it actually says.
func (e *Engine) Edit(ctx context.Context, id, newText string) (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, err := e.tree.GetNode(id)
	if err != nil {
		return nil, err
	}
	from := e.current

	if node.Turn.Actor == storytree.ActorPlayer {
		if err := e.tree.EditNode(id, storytree.Turn{
			Actor: storytree.ActorPlayer, Text: newText, DirectorThinking: node.Turn.DirectorThinking,
		}); err != nil {
			return nil, err
		}
		action := EngineAction{Kind: KindEdit, FromNodeID: from, ToNodeID: id}
		e.pushUndo(action)
		telemetry.DefaultMetrics().RecordNavigation(context.Background(), string(KindEdit), "ok")
		return &action, nil
	}

	oldDelta := nodeDelta(node)
	after, err := delta.Revert(e.world, oldDelta)
	if err != nil {
		return nil, fmt.Errorf("engine: edit: revert old deltas: %w", err)
	}
	e.world = after

	postReq := e.buildPostWriterDirectorContext(newText)
	postResp, err := e.callChat(ctx, "director:post-writer-edit", postReq)
	if err != nil {
		return nil, fmt.Errorf("engine: edit: post-writer director call: %w", err)
	}
	newDeltas := e.processToolCalls(ctx, postResp.ToolCalls)

	if err := e.tree.UpdateNode(id, storytree.Turn{
		Actor: storytree.ActorWriter, Text: newText, DirectorThinking: postResp.Content,
	}, newDeltas); err != nil {
		return nil, fmt.Errorf("engine: edit: update node: %w", err)
	}

	combined := mergeDeltas(invertDelta(oldDelta), mergeDeltas(newDeltas...))
	action := EngineAction{Kind: KindEdit, FromNodeID: from, ToNodeID: id, Deltas: Deltas{Game: &combined}}
	e.pushUndo(action)
	telemetry.DefaultMetrics().RecordNavigation(context.Background(), string(KindEdit), "ok")
	return &action, nil
}
