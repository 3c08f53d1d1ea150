// Copyright 2024 The conftree Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tree

import (
	"fmt"
	"strings"
)

// QueryResult is one match produced by Query: the kept segments of its
// path (in root-to-leaf order) and the value found there.
type QueryResult struct {
	Path  []string
	Value any
}

type queryOptions struct {
	transform func(any) any
	filter    func(any) bool
}

// QueryOption configures Query's post-processing.
type QueryOption func(*queryOptions)

// WithTransform applies f to every matched value before it's returned.
func WithTransform(f func(any) any) QueryOption {
	return func(o *queryOptions) { o.transform = f }
}

// WithFilter drops a match unless f returns true for its (untransformed)
// value.
func WithFilter(f func(any) bool) QueryOption {
	return func(o *queryOptions) { o.filter = f }
}

// querySeg is one dot-separated piece of a query path.
type querySeg struct {
	element string
	keep    bool
	keys    []string // populated for a literal key or a {k1,k2,...} set; unused for * and **
}

type queryFrontier struct {
	path  []string
	value any
}

// Query evaluates expr — one or more comma-separated path patterns — against
// this tree, returning every match keyed by its dotted kept-path. A key
// collision between two kept paths (within one pattern or across several) is
// a hard error, since the result couldn't represent both.
func (t *Tree) Query(expr string, opts ...QueryOption) (map[string]QueryResult, error) {
	o := queryOptions{
		transform: func(v any) any { return v },
		filter:    func(any) bool { return true },
	}
	for _, opt := range opts {
		opt(&o)
	}

	var matches []queryFrontier
	for _, sub := range splitTopLevelCommas(expr) {
		segs := parseQueryPath(strings.TrimSpace(sub))
		frontier, err := t.rawQuery(segs)
		if err != nil {
			return nil, err
		}
		matches = append(matches, frontier...)
	}

	result := make(map[string]QueryResult, len(matches))
	kept := 0
	for _, m := range matches {
		if !o.filter(m.value) {
			continue
		}
		kept++
		key := strings.Join(m.path, ".")
		result[key] = QueryResult{Path: m.path, Value: o.transform(m.value)}
	}
	if len(result) != kept {
		return nil, fmt.Errorf("tree: query %q: name collision on a kept path: %w", expr, ErrTreeError)
	}
	return result, nil
}

// splitTopLevelCommas splits expr on commas that aren't inside a {...} key
// set.
func splitTopLevelCommas(expr string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range expr {
		switch c {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, expr[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, expr[start:])
	return out
}

// parseQueryPath splits one dot-separated pattern into its segments,
// resolving each segment's "kept" flag and (for literal/{...} segments) its
// candidate key list. If no segment is explicitly parenthesized, every
// segment is kept.
func parseQueryPath(expr string) []querySeg {
	parts := strings.Split(expr, ".")
	segs := make([]querySeg, len(parts))
	anyKept := false
	for i, p := range parts {
		keep := strings.HasPrefix(p, "(") && strings.HasSuffix(p, ")") && len(p) >= 2
		el := p
		if keep {
			el = p[1 : len(p)-1]
		}
		segs[i] = querySeg{element: el, keep: keep}
		if keep {
			anyKept = true
		}
	}
	if !anyKept {
		for i := range segs {
			segs[i].keep = true
		}
	}
	for i := range segs {
		el := segs[i].element
		if el == "*" || el == "**" {
			continue
		}
		if strings.HasPrefix(el, "{") && strings.HasSuffix(el, "}") && len(el) >= 2 {
			segs[i].keys = strings.Split(el[1:len(el)-1], ",")
		} else {
			segs[i].keys = []string{el}
		}
	}
	return segs
}

// rawQuery walks segs from t, returning every (path, value) match. * and **
// only ever match actual stored keys — in t's own node and every Tree
// reached along the way — never schema-simulated Extra keys.
func (t *Tree) rawQuery(segs []querySeg) ([]queryFrontier, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	if err := t.realize(); err != nil {
		return nil, err
	}
	frontier := []queryFrontier{{value: t}}
	var extra []queryFrontier
	for i, seg := range segs {
		var next []queryFrontier
		for _, fr := range frontier {
			v, ok := fr.value.(*Tree)
			if !ok {
				continue
			}
			switch seg.element {
			case "*", "**":
				keys, err := v.Keys()
				if err != nil {
					return nil, err
				}
				for _, key := range keys {
					vv, err := v.Get(key)
					if err != nil {
						return nil, err
					}
					if seg.element != "**" {
						next = append(next, queryFrontier{path: keepKey(fr.path, key, seg.keep), value: vv})
						continue
					}
					if child, ok := vv.(*Tree); ok {
						sub, err := child.rawQuery(segs[i:])
						if err != nil {
							return nil, err
						}
						prefix := keepKey(fr.path, key, seg.keep)
						for _, s := range sub {
							extra = append(extra, queryFrontier{path: concatPaths(prefix, s.path), value: s.value})
						}
					}
				}
				if seg.element == "**" {
					sub, err := v.rawQuery(segs[i+1:])
					if err != nil {
						return nil, err
					}
					for _, s := range sub {
						extra = append(extra, queryFrontier{path: concatPaths(fr.path, s.path), value: s.value})
					}
				}
			default:
				for _, key := range seg.keys {
					has, err := v.Has(key)
					if err != nil {
						return nil, err
					}
					if !has {
						continue
					}
					vv, err := v.Get(key)
					if err != nil {
						return nil, err
					}
					next = append(next, queryFrontier{path: keepKey(fr.path, key, seg.keep), value: vv})
				}
			}
		}
		frontier = next
	}
	return append(frontier, extra...), nil
}

func keepKey(path []string, key string, keep bool) []string {
	if !keep {
		return path
	}
	np := make([]string, len(path), len(path)+1)
	copy(np, path)
	return append(np, key)
}

func concatPaths(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
