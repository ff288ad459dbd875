package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ifengine/internal/chatprovider"
	"ifengine/internal/delta"
	"ifengine/internal/logging"
	"ifengine/internal/memorybank"
	"ifengine/internal/plotcards"
	"ifengine/internal/storytree"
	"ifengine/internal/telemetry"
	"ifengine/internal/toolschema"
)

// Engine coordinates a single play session: the story tree, the world-state
// document, the memory bank and plot-card index that feed context into
// director/writer calls, and the undo/redo stacks over EngineActions.
type Engine struct {
	mu sync.Mutex

	tree   *storytree.Tree
	memory *memorybank.Bank
	plots  *plotcards.Index
	chat   chatprovider.Provider
	tools  *toolschema.Registry

	world   map[string]any
	current string

	undoStack []EngineAction
	redoStack []EngineAction

	turnCounter int
	cfg         Config
}

// New wires an Engine around an already-open tree, memory bank, and plot
// index. initialWorld seeds the world-state document; a nil map starts from
// an empty one.
func New(tree *storytree.Tree, memory *memorybank.Bank, plots *plotcards.Index, chat chatprovider.Provider, tools *toolschema.Registry, initialWorld map[string]any, cfg Config) *Engine {
	if initialWorld == nil {
		initialWorld = newWorldDoc(nil, nil)
	}
	if _, ok := initialWorld["state"].(map[string]any); !ok {
		initialWorld["state"] = map[string]any{}
	}
	if _, ok := initialWorld["plots"].([]any); !ok {
		initialWorld["plots"] = []any{}
	}
	return &Engine{
		tree:    tree,
		memory:  memory,
		plots:   plots,
		chat:    chat,
		tools:   tools,
		world:   initialWorld,
		current: tree.RootID(),
		cfg:     cfg,
	}
}

// Current returns the id of the node the session is presently viewing.
func (e *Engine) Current() string { return e.current }

// Tree returns the underlying story tree, for session serialization.
func (e *Engine) Tree() *storytree.Tree { return e.tree }

// UndoStack returns a copy of the pending undo actions, oldest first.
func (e *Engine) UndoStack() []EngineAction {
	out := make([]EngineAction, len(e.undoStack))
	copy(out, e.undoStack)
	return out
}

// RedoStack returns a copy of the pending redo actions, oldest first.
func (e *Engine) RedoStack() []EngineAction {
	out := make([]EngineAction, len(e.redoStack))
	copy(out, e.redoStack)
	return out
}

// Restore overwrites the engine's current position, world state (state tree
// plus plot sequence), and undo/redo stacks from a loaded session, without
// touching the tree, memory bank, or plot index wired in at construction
// time.
func (e *Engine) Restore(current string, state map[string]any, plots []Plot, undoStack, redoStack []EngineAction) {
	e.current = current
	e.world = newWorldDoc(state, plots)
	e.undoStack = undoStack
	e.redoStack = redoStack
}

// mergeDeltas concatenates a run of deltas into one, preserving apply order
// forward and reversing it for revert, so the combined pair undoes cleanly
// in a single step.
func mergeDeltas(ds ...delta.Delta) delta.Delta {
	var out delta.Delta
	for _, d := range ds {
		out.Apply = append(out.Apply, d.Apply...)
	}
	for i := len(ds) - 1; i >= 0; i-- {
		out.Revert = append(out.Revert, ds[i].Revert...)
	}
	return out
}

// processToolCalls validates and executes each tool call in turn. Unknown
// names and schema failures are logged and skipped, not fatal to the turn.
// Every world-state mutation — patch_state, add_plot, update_plot,
// remove_plot — both mutates e.world and returns the delta pair recording
// it; determine_action_result carries no state change of its own.
func (e *Engine) processToolCalls(ctx context.Context, calls []chatprovider.ToolCall) []delta.Delta {
	var deltas []delta.Delta
	for _, tc := range calls {
		raw := json.RawMessage(tc.Arguments)
		if err := e.tools.Validate(tc.Name, raw); err != nil {
			continue
		}

		switch tc.Name {
		case toolschema.ToolPatchState:
			var args toolschema.PatchStateArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				logging.EngineWarn("patch_state: %v", err)
				continue
			}
			d, err := e.PatchState(args.PartialState)
			if err != nil {
				logging.EngineWarn("%v", err)
				continue
			}
			deltas = append(deltas, d)

		case toolschema.ToolAddPlot:
			var args toolschema.AddPlotArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				logging.EngineWarn("add_plot: %v", err)
				continue
			}
			_, d, err := e.AddPlot(args.Title, args.Description, args.PlayerAlignment, e.turnCounter)
			if err != nil {
				logging.EngineWarn("%v", err)
				continue
			}
			deltas = append(deltas, d)

		case toolschema.ToolUpdatePlot:
			var args toolschema.UpdatePlotArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				logging.EngineWarn("update_plot: %v", err)
				continue
			}
			d, err := e.UpdatePlot(args.PlotID, PlotUpdate{
				Title:       args.Updates.Title,
				Description: args.Updates.Description,
				Alignment:   args.Updates.PlayerAlignment,
			})
			if err != nil {
				logging.EngineWarn("%v", err)
				continue
			}
			deltas = append(deltas, d)

		case toolschema.ToolRemovePlot:
			var args toolschema.RemovePlotArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				logging.EngineWarn("remove_plot: %v", err)
				continue
			}
			d, err := e.RemovePlot(args.PlotID)
			if err != nil {
				logging.EngineWarn("%v", err)
				continue
			}
			deltas = append(deltas, d)

		case toolschema.ToolDetermineActionResult:
			// Carries no state change of its own; buildPostWriterDirectorContext's
			// caller reads the raw ChatResponse for its assessment.

		default:
			logging.EngineWarn("ignoring tool call to unregistered tool %q", tc.Name)
		}
	}
	return deltas
}

// callChat wraps a provider call with retry and records a
// ifengine.provider.requests observation for the outcome, keyed by the
// provider's own name and the pipeline stage label.
func (e *Engine) callChat(ctx context.Context, label string, req chatprovider.ChatRequest) (chatprovider.ChatResponse, error) {
	resp, err := withRetry(ctx, e.cfg, label, func(ctx context.Context) (chatprovider.ChatResponse, error) {
		return e.chat.Chat(ctx, req)
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	telemetry.DefaultMetrics().RecordProviderRequest(ctx, e.chat.Name(), label, status)
	return resp, err
}

func (e *Engine) pushUndo(action EngineAction) {
	e.undoStack = append(e.undoStack, action)
	e.redoStack = nil
}

// Act runs one full turn: the director assesses the player's action and may
// patch world state's state tree or its plot threads, the writer narrates the outcome, and the
// director assesses the narration in a second pass. Both turns are appended
// to the story tree and the combined result is pushed as one undoable
// EngineAction.
func (e *Engine) Act(ctx context.Context, playerText string) (*EngineAction, error) {
	if !e.mu.TryLock() {
		return nil, &ErrReentrantTurn{}
	}
	defer e.mu.Unlock()

	start := time.Now()
	fromID := e.current
	treeBefore, err := e.tree.Doc()
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot tree: %w", err)
	}

	directorReq := e.buildDirectorContext(ctx, playerText)
	directorResp, err := e.callChat(ctx, "director:pre-writer", directorReq)
	if err != nil {
		telemetry.DefaultMetrics().RecordTurn(ctx, string(KindAct), time.Since(start).Seconds(), "error")
		return nil, fmt.Errorf("engine: director call: %w", err)
	}
	preDeltas := e.processToolCalls(ctx, directorResp.ToolCalls)

	playerNode, err := e.tree.AddNode(e.current, storytree.Turn{
		Actor: storytree.ActorPlayer, Text: playerText, DirectorThinking: directorResp.Content,
	}, preDeltas)
	if err != nil {
		return nil, fmt.Errorf("engine: append player node: %w", err)
	}
	e.current = playerNode.ID

	writerReq := e.buildWriterContext()
	writerResp, err := e.callChat(ctx, "writer", writerReq)
	if err != nil {
		telemetry.DefaultMetrics().RecordTurn(ctx, string(KindAct), time.Since(start).Seconds(), "error")
		return nil, fmt.Errorf("engine: writer call: %w", err)
	}

	postReq := e.buildPostWriterDirectorContext(writerResp.Content)
	postResp, err := e.callChat(ctx, "director:post-writer", postReq)
	if err != nil {
		telemetry.DefaultMetrics().RecordTurn(ctx, string(KindAct), time.Since(start).Seconds(), "error")
		return nil, fmt.Errorf("engine: post-writer director call: %w", err)
	}
	postDeltas := e.processToolCalls(ctx, postResp.ToolCalls)

	writerNode, err := e.tree.AddNode(playerNode.ID, storytree.Turn{
		Actor: storytree.ActorWriter, Text: writerResp.Content, DirectorThinking: postResp.Content,
	}, postDeltas)
	if err != nil {
		return nil, fmt.Errorf("engine: append writer node: %w", err)
	}
	e.current = writerNode.ID

	e.turnCounter++
	var memDelta *delta.Delta
	if e.cfg.MemoryGenerationInterval > 0 && e.turnCounter%e.cfg.MemoryGenerationInterval == 0 {
		memDelta = e.summarizeRecentTurns(ctx)
	}

	treeAfter, err := e.tree.Doc()
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot tree: %w", err)
	}
	treeDelta, _, err := delta.BuildDelta(treeBefore, func(map[string]any) (map[string]any, error) {
		return treeAfter, nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: diff tree: %w", err)
	}

	gameDelta := mergeDeltas(preDeltas...)
	gameDelta = mergeDeltas(gameDelta, mergeDeltas(postDeltas...))

	action := EngineAction{
		Kind:       KindAct,
		FromNodeID: fromID,
		ToNodeID:   writerNode.ID,
		Deltas:     Deltas{Tree: &treeDelta, Game: &gameDelta, Memory: memDelta},
	}
	e.pushUndo(action)
	telemetry.DefaultMetrics().RecordTurn(ctx, string(KindAct), time.Since(start).Seconds(), "ok")
	logging.Engine("act turn=%d from=%s to=%s", e.turnCounter, fromID, writerNode.ID)
	return &action, nil
}

// Continue runs the writer and post-writer director stages without a
// preceding player action, for sessions that let the story advance on its
// own (an empty "continue" input rather than a declared action).
func (e *Engine) Continue(ctx context.Context) (*EngineAction, error) {
	if !e.mu.TryLock() {
		return nil, &ErrReentrantTurn{}
	}
	defer e.mu.Unlock()

	start := time.Now()
	fromID := e.current
	treeBefore, err := e.tree.Doc()
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot tree: %w", err)
	}

	writerReq := e.buildWriterContext()
	writerResp, err := e.callChat(ctx, "writer", writerReq)
	if err != nil {
		telemetry.DefaultMetrics().RecordTurn(ctx, string(KindContinue), time.Since(start).Seconds(), "error")
		return nil, fmt.Errorf("engine: writer call: %w", err)
	}

	postReq := e.buildPostWriterDirectorContext(writerResp.Content)
	postResp, err := e.callChat(ctx, "director:post-writer", postReq)
	if err != nil {
		telemetry.DefaultMetrics().RecordTurn(ctx, string(KindContinue), time.Since(start).Seconds(), "error")
		return nil, fmt.Errorf("engine: post-writer director call: %w", err)
	}
	postDeltas := e.processToolCalls(ctx, postResp.ToolCalls)

	writerNode, err := e.tree.AddNode(e.current, storytree.Turn{
		Actor: storytree.ActorWriter, Text: writerResp.Content, DirectorThinking: postResp.Content,
	}, postDeltas)
	if err != nil {
		return nil, fmt.Errorf("engine: append writer node: %w", err)
	}
	e.current = writerNode.ID

	treeAfter, err := e.tree.Doc()
	if err != nil {
		return nil, fmt.Errorf("engine: snapshot tree: %w", err)
	}
	treeDelta, _, err := delta.BuildDelta(treeBefore, func(map[string]any) (map[string]any, error) {
		return treeAfter, nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: diff tree: %w", err)
	}

	gameDelta := mergeDeltas(postDeltas...)
	action := EngineAction{
		Kind:       KindContinue,
		FromNodeID: fromID,
		ToNodeID:   writerNode.ID,
		Deltas:     Deltas{Tree: &treeDelta, Game: &gameDelta},
	}
	e.pushUndo(action)
	telemetry.DefaultMetrics().RecordTurn(ctx, string(KindContinue), time.Since(start).Seconds(), "ok")
	return &action, nil
}

// summarizeRecentTurns folds the last 2*MemoryGenerationInterval turns into
// a new memory and returns the delta pair recording that mutation, so the
// caller can carry it on the EngineAction and undo it exactly like any other
// state change. Failures are logged, not surfaced: memory generation is a
// side effect of a turn, never its outcome, so a failure returns nil rather
// than aborting the turn.
func (e *Engine) summarizeRecentTurns(ctx context.Context) *delta.Delta {
	if e.memory == nil {
		return nil
	}
	window := 2 * e.cfg.MemoryGenerationInterval
	turns, err := e.tree.GetRecentTurns(e.current, window)
	if err != nil {
		logging.EngineWarn("summarize: %v", err)
		return nil
	}
	texts := make([]string, len(turns))
	for i, t := range turns {
		texts[i] = t.Text
	}
	_, d, err := e.memory.GenerateAndAddMemory(ctx, texts, e.turnCounter, e.cfg.MemorySummaryPrompt)
	if err != nil {
		logging.EngineWarn("summarize: %v", err)
		return nil
	}
	return &d
}

// Undo reverts the most recent EngineAction: its game delta, then its tree
// delta, moving the current selection back to the action's origin node.
func (e *Engine) Undo() (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.undoStack) == 0 {
		return nil, &ErrEmptyStack{Stack: "undo"}
	}
	action := e.undoStack[len(e.undoStack)-1]
	e.undoStack = e.undoStack[:len(e.undoStack)-1]

	if err := e.revertAction(action); err != nil {
		e.undoStack = append(e.undoStack, action)
		telemetry.DefaultMetrics().RecordNavigation(context.Background(), "undo", "error")
		return nil, err
	}

	e.current = action.FromNodeID
	e.redoStack = append(e.redoStack, action)
	telemetry.DefaultMetrics().RecordNavigation(context.Background(), "undo", "ok")
	logging.Engine("undo kind=%s to=%s", action.Kind, action.FromNodeID)
	return &action, nil
}

// Redo re-applies the most recently undone EngineAction.
func (e *Engine) Redo() (*EngineAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.redoStack) == 0 {
		return nil, &ErrEmptyStack{Stack: "redo"}
	}
	action := e.redoStack[len(e.redoStack)-1]
	e.redoStack = e.redoStack[:len(e.redoStack)-1]

	if err := e.applyAction(action); err != nil {
		e.redoStack = append(e.redoStack, action)
		telemetry.DefaultMetrics().RecordNavigation(context.Background(), "redo", "error")
		return nil, err
	}

	e.current = action.ToNodeID
	e.undoStack = append(e.undoStack, action)
	telemetry.DefaultMetrics().RecordNavigation(context.Background(), "redo", "ok")
	logging.Engine("redo kind=%s to=%s", action.Kind, action.ToNodeID)
	return &action, nil
}

func (e *Engine) revertAction(action EngineAction) error {
	if action.Deltas.Game != nil {
		after, err := delta.Revert(e.world, *action.Deltas.Game)
		if err != nil {
			return fmt.Errorf("engine: revert game delta: %w", err)
		}
		e.world = after
	}
	if action.Deltas.Tree != nil {
		if err := e.revertTree(*action.Deltas.Tree); err != nil {
			return err
		}
	}
	if action.Deltas.Memory != nil {
		if err := e.reconcileMemory(*action.Deltas.Memory, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyAction(action EngineAction) error {
	if action.Deltas.Tree != nil {
		if err := e.applyTree(*action.Deltas.Tree); err != nil {
			return err
		}
	}
	if action.Deltas.Game != nil {
		after, err := delta.Apply(e.world, *action.Deltas.Game)
		if err != nil {
			return fmt.Errorf("engine: apply game delta: %w", err)
		}
		e.world = after
	}
	if action.Deltas.Memory != nil {
		if err := e.reconcileMemory(*action.Deltas.Memory, false); err != nil {
			return err
		}
	}
	return nil
}

// reconcileMemory reverts or applies a memory delta against the bank's
// current mirror document, then reconciles the bank's actual store to match
// via ApplyDelta, the same mechanism GenerateAndAddMemory's delta was built
// to unwind.
func (e *Engine) reconcileMemory(d delta.Delta, revert bool) error {
	if e.memory == nil {
		return nil
	}
	doc := e.memory.Doc()
	var after map[string]any
	var err error
	if revert {
		after, err = delta.Revert(doc, d)
	} else {
		after, err = delta.Apply(doc, d)
	}
	if err != nil {
		return fmt.Errorf("engine: reconcile memory delta: %w", err)
	}
	target, err := memorybank.MemoriesFromDoc(after)
	if err != nil {
		return fmt.Errorf("engine: reconcile memory delta: %w", err)
	}
	if err := e.memory.ApplyDelta(context.Background(), target); err != nil {
		return fmt.Errorf("engine: reconcile memory delta: %w", err)
	}
	return nil
}

// revertTree reverts a structural tree delta by diffing it against the
// tree's current document form and rebuilding the tree from the result,
// mirroring how DeleteBranch computes its own restoring delta.
func (e *Engine) revertTree(d delta.Delta) error {
	doc, err := e.tree.Doc()
	if err != nil {
		return fmt.Errorf("engine: snapshot tree: %w", err)
	}
	before, err := delta.Revert(doc, d)
	if err != nil {
		return fmt.Errorf("engine: revert tree delta: %w", err)
	}
	rebuilt, err := rebuildTree(before)
	if err != nil {
		return err
	}
	e.tree = rebuilt
	return nil
}

func (e *Engine) applyTree(d delta.Delta) error {
	doc, err := e.tree.Doc()
	if err != nil {
		return fmt.Errorf("engine: snapshot tree: %w", err)
	}
	after, err := delta.Apply(doc, d)
	if err != nil {
		return fmt.Errorf("engine: apply tree delta: %w", err)
	}
	rebuilt, err := rebuildTree(after)
	if err != nil {
		return err
	}
	e.tree = rebuilt
	return nil
}

func rebuildTree(doc map[string]any) (*storytree.Tree, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal tree doc: %w", err)
	}
	t, err := storytree.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("engine: rebuild tree: %w", err)
	}
	return t, nil
}
