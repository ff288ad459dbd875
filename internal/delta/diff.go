package delta

import (
	"fmt"
	"reflect"
)

// diffValues walks before/after in lockstep at path, appending ops to
// d.Apply (before -> after) and d.Revert (after -> before). Maps recurse
// key by key. A []any of id-keyed objects (every element a map[string]any
// carrying an "id" key) is diffed as if it were a map keyed by that id, so
// inserting or removing a branch never reshuffles the indices of its
// siblings on undo. Any other array, or a type change, is replaced whole.
func diffValues(path string, before, after any, d *Delta) {
	if isIDKeyedSlice(before) && isIDKeyedSlice(after) {
		diffIDKeyedSlice(path, before.([]any), after.([]any), d)
		return
	}
	if bs, ok := before.([]any); ok {
		if as, ok2 := after.([]any); ok2 && !isIDKeyedSlice(before) && !isIDKeyedSlice(after) {
			diffPlainSlice(path, bs, as, d)
			return
		}
	}

	bm, bIsMap := before.(map[string]any)
	am, aIsMap := after.(map[string]any)
	if bIsMap && aIsMap {
		diffMaps(path, bm, am, d)
		return
	}

	if deepEqual(before, after) {
		return
	}

	switch {
	case before == nil && after != nil:
		d.Apply = append(d.Apply, Op{Kind: OpAdd, Path: path, Value: after})
		d.Revert = append(d.Revert, Op{Kind: OpRemove, Path: path})
	case before != nil && after == nil:
		d.Apply = append(d.Apply, Op{Kind: OpRemove, Path: path})
		d.Revert = append(d.Revert, Op{Kind: OpAdd, Path: path, Value: before})
	default:
		d.Apply = append(d.Apply, Op{Kind: OpReplace, Path: path, Value: after})
		d.Revert = append(d.Revert, Op{Kind: OpReplace, Path: path, Value: before})
	}
}

func diffMaps(path string, before, after map[string]any, d *Delta) {
	for k, bv := range before {
		av, ok := after[k]
		if !ok {
			d.Apply = append(d.Apply, Op{Kind: OpRemove, Path: joinPointer(path, k)})
			d.Revert = append(d.Revert, Op{Kind: OpAdd, Path: joinPointer(path, k), Value: bv})
			continue
		}
		diffValues(joinPointer(path, k), bv, av, d)
	}
	for k, av := range after {
		if _, ok := before[k]; ok {
			continue
		}
		d.Apply = append(d.Apply, Op{Kind: OpAdd, Path: joinPointer(path, k), Value: av})
		d.Revert = append(d.Revert, Op{Kind: OpRemove, Path: joinPointer(path, k)})
	}
}

// diffPlainSlice replaces the whole array on any change. A general
// positional sequence diff (insert/delete/move) is out of scope; callers
// that need stable per-element identity across mutation use an id-keyed
// slice instead, which diffs element-by-element via diffIDKeyedSlice.
func diffPlainSlice(path string, before, after []any, d *Delta) {
	if deepEqual(before, after) {
		return
	}
	d.Apply = append(d.Apply, Op{Kind: OpReplace, Path: path, Value: after})
	d.Revert = append(d.Revert, Op{Kind: OpReplace, Path: path, Value: before})
}

// diffIDKeyedSlice diffs two []any of id-keyed objects by id, ignoring
// position. Ops address elements with an "id:<value>" pointer segment
// (see pointer.go) instead of a numeric index, so undo/redo never needs to
// know where in the array a sibling used to sit.
func diffIDKeyedSlice(path string, before, after []any, d *Delta) {
	beforeByID := indexByID(before)
	afterByID := indexByID(after)

	for id, bv := range beforeByID {
		elemPath := joinPointer(path, "id:"+id)
		av, ok := afterByID[id]
		if !ok {
			d.Apply = append(d.Apply, Op{Kind: OpRemove, Path: elemPath})
			d.Revert = append(d.Revert, Op{Kind: OpAdd, Path: elemPath, Value: bv})
			continue
		}
		diffValues(elemPath, bv, av, d)
	}
	for id, av := range afterByID {
		if _, ok := beforeByID[id]; ok {
			continue
		}
		elemPath := joinPointer(path, "id:"+id)
		d.Apply = append(d.Apply, Op{Kind: OpAdd, Path: elemPath, Value: av})
		d.Revert = append(d.Revert, Op{Kind: OpRemove, Path: elemPath})
	}
}

func indexByID(s []any) map[string]any {
	out := make(map[string]any, len(s))
	for _, e := range s {
		m := e.(map[string]any)
		out[idString(m["id"])] = m
	}
	return out
}

func idString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func isIDKeyedSlice(v any) bool {
	s, ok := v.([]any)
	if !ok {
		return false
	}
	for _, e := range s {
		m, ok := e.(map[string]any)
		if !ok {
			return false
		}
		if _, hasID := m["id"]; !hasID {
			return false
		}
	}
	return true
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
