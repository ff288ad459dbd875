package delta

import (
	"fmt"
	"strconv"
	"strings"
)

// joinPointer appends a raw (unescaped) key to a JSON pointer path.
func joinPointer(path, key string) string {
	return path + "/" + escapeSegment(key)
}

func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return s
}

func unescapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	s = strings.ReplaceAll(s, "~0", "~")
	return s
}

func splitPointer(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = unescapeSegment(p)
	}
	return out
}

// setPointer sets value at path within root, creating intermediate maps as
// needed, and returns the (possibly new) root.
func setPointer(root any, path string, value any) (any, error) {
	segs := splitPointer(path)
	if len(segs) == 0 {
		v, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot replace document root with non-object")
		}
		return v, nil
	}
	return setAt(root, segs, value)
}

func setAt(container any, segs []string, value any) (any, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch c := container.(type) {
	case map[string]any:
		if last {
			c[seg] = value
			return c, nil
		}
		child, err := setAt(c[seg], segs[1:], value)
		if err != nil {
			return nil, err
		}
		c[seg] = child
		return c, nil

	case []any:
		if idVal, ok := idSegment(seg); ok {
			if last {
				return upsertByID(c, idVal, value), nil
			}
			idx, found := findByID(c, idVal)
			if !found {
				return nil, fmt.Errorf("id %q not found", idVal)
			}
			child, err := setAt(c[idx], segs[1:], value)
			if err != nil {
				return nil, err
			}
			c[idx] = child
			return c, nil
		}
		if seg == "-" {
			if !last {
				return nil, fmt.Errorf("cannot descend through append segment '-'")
			}
			return append(c, value), nil
		}
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx > len(c) {
			return nil, fmt.Errorf("invalid array index %q", seg)
		}
		if last {
			if idx == len(c) {
				return append(c, value), nil
			}
			c[idx] = value
			return c, nil
		}
		if idx >= len(c) {
			return nil, fmt.Errorf("array index %d out of range", idx)
		}
		child, err := setAt(c[idx], segs[1:], value)
		if err != nil {
			return nil, err
		}
		c[idx] = child
		return c, nil

	case nil:
		// Auto-vivify a map for a missing intermediate container.
		return setAt(map[string]any{}, segs, value)

	default:
		return nil, fmt.Errorf("cannot descend into scalar at %q", seg)
	}
}

// removePointer removes the value at path within root.
func removePointer(root any, path string) (any, error) {
	segs := splitPointer(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("cannot remove document root")
	}
	return removeAt(root, segs)
}

func removeAt(container any, segs []string) (any, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch c := container.(type) {
	case map[string]any:
		if last {
			delete(c, seg)
			return c, nil
		}
		child, ok := c[seg]
		if !ok {
			return nil, fmt.Errorf("key %q not found", seg)
		}
		newChild, err := removeAt(child, segs[1:])
		if err != nil {
			return nil, err
		}
		c[seg] = newChild
		return c, nil

	case []any:
		if idVal, ok := idSegment(seg); ok {
			idx, found := findByID(c, idVal)
			if !found {
				return nil, fmt.Errorf("id %q not found", idVal)
			}
			if last {
				return append(c[:idx], c[idx+1:]...), nil
			}
			newChild, err := removeAt(c[idx], segs[1:])
			if err != nil {
				return nil, err
			}
			c[idx] = newChild
			return c, nil
		}
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, fmt.Errorf("invalid array index %q", seg)
		}
		if last {
			return append(c[:idx], c[idx+1:]...), nil
		}
		newChild, err := removeAt(c[idx], segs[1:])
		if err != nil {
			return nil, err
		}
		c[idx] = newChild
		return c, nil

	default:
		return nil, fmt.Errorf("cannot remove from scalar at %q", seg)
	}
}

// extractPointer removes the value at path and returns it alongside the
// mutated root, used to implement "move".
func extractPointer(root any, path string) (any, any, error) {
	v, err := getPointer(root, path)
	if err != nil {
		return nil, nil, err
	}
	newRoot, err := removePointer(root, path)
	if err != nil {
		return nil, nil, err
	}
	return v, newRoot, nil
}

func getPointer(root any, path string) (any, error) {
	segs := splitPointer(path)
	cur := root
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found", seg)
			}
			cur = v
		case []any:
			if idVal, ok := idSegment(seg); ok {
				idx, found := findByID(c, idVal)
				if !found {
					return nil, fmt.Errorf("id %q not found", idVal)
				}
				cur = c[idx]
				continue
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("invalid array index %q", seg)
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into scalar at %q", seg)
		}
	}
	return cur, nil
}

func idSegment(seg string) (string, bool) {
	if strings.HasPrefix(seg, "id:") {
		return strings.TrimPrefix(seg, "id:"), true
	}
	return "", false
}

func findByID(s []any, id string) (int, bool) {
	for i, e := range s {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if idString(m["id"]) == id {
			return i, true
		}
	}
	return -1, false
}

func upsertByID(s []any, id string, value any) []any {
	if idx, found := findByID(s, id); found {
		s[idx] = value
		return s
	}
	return append(s, value)
}
