// Package jsonpath implements the minimal path grammar used by policy
// conditions: a "$." prefix followed by ".key" and "[index]" segments. There
// are no wildcards, slices, filters or recursive descent.
//
//	$.payload.amount_minor
//	$.payload.items[0].sku
package jsonpath

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PathError reports a malformed path. Malformed paths are programmer errors:
// Get panics with a *PathError rather than returning undefined.
type PathError struct {
	Path   string
	Offset int
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("jsonpath: invalid path %q at offset %d: %s", e.Path, e.Offset, e.Reason)
}

// Segment is a single key or index step.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a parsed path.
type Path []Segment

// Parse validates and splits a path.
func Parse(path string) (Path, error) {
	if len(path) < 2 || path[0] != '$' || path[1] != '.' {
		return nil, &PathError{Path: path, Reason: `must start with "$."`}
	}

	var segs Path
	i := 2
	// The first segment directly follows "$." and must be a key.
	key, next, err := readIdent(path, i)
	if err != nil {
		return nil, err
	}
	segs = append(segs, Segment{Key: key})
	i = next

	for i < len(path) {
		switch path[i] {
		case '.':
			key, next, err := readIdent(path, i+1)
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Key: key})
			i = next
		case '[':
			end := i + 1
			for end < len(path) && path[end] >= '0' && path[end] <= '9' {
				end++
			}
			if end == i+1 || end >= len(path) || path[end] != ']' {
				return nil, &PathError{Path: path, Offset: i, Reason: "expected [digits]"}
			}
			n, err := strconv.Atoi(path[i+1 : end])
			if err != nil {
				return nil, &PathError{Path: path, Offset: i, Reason: "index out of range"}
			}
			segs = append(segs, Segment{Index: n, IsIndex: true})
			i = end + 1
		default:
			return nil, &PathError{Path: path, Offset: i, Reason: fmt.Sprintf("unexpected %q", path[i])}
		}
	}
	return segs, nil
}

func readIdent(path string, start int) (string, int, error) {
	i := start
	for i < len(path) && isIdentByte(path[i], i == start) {
		i++
	}
	if i == start {
		return "", 0, &PathError{Path: path, Offset: start, Reason: "expected identifier"}
	}
	return path[start:i], i, nil
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

// MustParse is like Parse but panics on error.
func MustParse(path string) Path {
	p, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup walks root along p. The boolean is false when the value is
// undefined: a missing key, a non-object where a key is expected, a
// non-array where an index is expected, or an out-of-range index. A JSON
// null that is present is defined.
func (p Path) Lookup(root any) (any, bool) {
	cur := root
	for _, seg := range p {
		if seg.IsIndex {
			arr, ok := cur.([]any)
			if !ok || seg.Index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.Index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[seg.Key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Get resolves path against root. It panics with *PathError if the path is
// malformed.
func Get(root any, path string) (any, bool) {
	return MustParse(path).Lookup(root)
}

// ToTree converts a typed value into the generic tree (map[string]any,
// []any, float64, string, bool, nil) that Lookup walks, using its JSON form.
func ToTree(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonpath: to tree: %w", err)
	}
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("jsonpath: to tree: %w", err)
	}
	return tree, nil
}
