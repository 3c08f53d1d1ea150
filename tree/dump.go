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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DumpOptions controls Dump's rendering. Color is an explicit on/off switch
// — auto-detecting a terminal is the caller's job (see cmd/conftree, which
// uses golang.org/x/term for that).
type DumpOptions struct {
	Help   bool
	Color  bool
	Expand bool
	Depth  *int // nil means unlimited
	Flat   bool
}

// Dump renders the tree (and its descendants, subject to Depth) as a
// human-readable listing: one line per key, braces for subtrees, trailing
// warnings for any schema-required key still missing.
func (t *Tree) Dump(opts DumpOptions) (string, error) {
	lines, err := t.dumpLines("", nil, opts, opts.Depth)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func colorize(text string, color int, enabled bool) string {
	if !enabled {
		return text
	}
	bold := 0
	if color >= 8 {
		bold = 1
	}
	return fmt.Sprintf("\033[%d;%dm%s\033[0m", bold, 30+(color%8), text)
}

func boldText(text string, enabled bool) string {
	if !enabled {
		return text
	}
	return fmt.Sprintf("\033[1m%s\033[0m", text)
}

var keyQuoter = strings.NewReplacer(`\`, `\\`, " ", `\ `, ".", `\.`, "\n", `\n`)

func quoteKey(k string) string {
	return keyQuoter.Replace(k)
}

func jsonify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func (t *Tree) dumpLines(prefix string, namePrefix *string, opts DumpOptions, depthLimit *int) ([]string, error) {
	bottom := depthLimit != nil && *depthLimit <= 0
	var nextDepthLimit *int
	if depthLimit != nil {
		d := *depthLimit - 1
		nextDepthLimit = &d
	}

	extra, err := t.schema.Extra(t)
	if err != nil {
		return nil, err
	}
	keys, err := t.Keys()
	if err != nil {
		return nil, err
	}

	all := map[string]bool{}
	for _, k := range keys {
		all[k] = true
	}
	for k := range extra {
		all[k] = true
	}
	sortedKeys := make([]string, 0, len(all))
	for k := range all {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	var r []string
	if len(sortedKeys) == 0 {
		r = append(r, prefix+"ø")
	}
	for _, k := range sortedKeys {
		var nk string
		if namePrefix != nil {
			sep := " "
			if opts.Flat {
				sep = "."
			}
			nk = colorize(*namePrefix, 12, opts.Color) + sep + quoteKey(k)
		} else {
			nk = quoteKey(k)
		}

		_, isExtraKey := extra[k]
		if opts.Help && !isExtraKey {
			help, err := t.schema.Help(t, k)
			if err != nil {
				return nil, err
			}
			if help != "" {
				h := []string{"##"}
				for _, line := range strings.Split(help, "\n") {
					if strings.TrimSpace(line) != "" {
						h = append(h, "## "+strings.TrimRight(line, " \t"))
					} else {
						h = append(h, "##")
					}
				}
				h = append(h, "##")
				for _, line := range h {
					r = append(r, prefix+colorize(line, 8, opts.Color))
				}
			}
		}

		a, err := t.get(k, false, nil, false)
		if err != nil {
			return nil, err
		}

		childTree, isTreeish := a.Value.(*Tree)
		isTreeish = isTreeish && (a.Kind == AnnotationTree || a.Kind == AnnotationExtra)

		switch {
		case isTreeish:
			lines, err := t.dumpSubtree(prefix, nk, k, a, childTree, opts, bottom, nextDepthLimit)
			if err != nil {
				return nil, err
			}
			r = append(r, lines...)
		case a.Kind == AnnotationLeaf:
			r = append(r, fmt.Sprintf("%s%s %s;", prefix, nk, boldText(jsonify(a.Value), opts.Color)))
		case a.Kind == AnnotationRef:
			refTree := a.Value.(*Tree)
			raw, err := t.GetRaw(k)
			if err != nil {
				return nil, err
			}
			text := colorize("@(", 13, opts.Color) + colorize(jsonify(raw), 5, opts.Color) + colorize(")", 13, opts.Color)
			r = append(r, fmt.Sprintf("%s%s %s; %s", prefix, nk, text, colorize("# ref:"+strings.Join(mapQuote(refTree.Path()), "."), 7, opts.Color)))
		case a.Kind == AnnotationExtra:
			var text string
			if !opts.Flat {
				text = colorize("<", 10, opts.Color) + colorize(jsonify(a.Value), 2, opts.Color) + colorize(">", 10, opts.Color)
			} else {
				text = colorize(jsonify(a.Value), 2, opts.Color)
			}
			r = append(r, fmt.Sprintf("%s%s %s;", prefix, colorize(nk, 2, opts.Color), text))
		}
	}

	missing, err := t.MissingKeys()
	if err != nil {
		return nil, err
	}
	sort.Strings(missing)
	for _, name := range missing {
		warn := "Warning"
		if opts.Color {
			warn = colorize("Warning", 1, true)
		}
		r = append(r, fmt.Sprintf("%s/* %s: missing mandatory key %q */", prefix, warn, name))
	}
	return r, nil
}

func (t *Tree) dumpSubtree(prefix, nk, key string, a Annotated, child *Tree, opts DumpOptions, bottom bool, nextDepthLimit *int) ([]string, error) {
	format, err := t.schema.Format(t, key)
	if err != nil {
		return nil, err
	}
	childKeys, err := child.Keys()
	if err != nil {
		return nil, err
	}
	childExtra, err := child.ExtraKeys()
	if err != nil {
		return nil, err
	}
	hasContent := len(childKeys) > 0 || len(childExtra) > 0

	collapseIntoArg := !opts.Expand && (opts.Flat || format == "arg") && hasContent
	if collapseIntoArg {
		if bottom {
			return []string{fmt.Sprintf("%s%s %s..%s", prefix, nk, colorize("{", 3, opts.Color), colorize("}", 3, opts.Color))}, nil
		}
		return child.dumpLines(prefix, &nk, opts, nextDepthLimit)
	}

	if bottom {
		return []string{fmt.Sprintf("%s%s %s..%s", prefix, nk, colorize("{", 3, opts.Color), colorize("}", 3, opts.Color))}, nil
	}

	missingChild, err := child.MissingKeys()
	if err != nil {
		return nil, err
	}

	var r []string
	if a.Kind == AnnotationTree && !hasContent && len(missingChild) == 0 {
		if !opts.Flat {
			r = append(r, fmt.Sprintf("%s%s %s ø %s", prefix, nk, colorize("{", 3, opts.Color), colorize("}", 3, opts.Color)))
		}
		return r, nil
	}

	if a.Kind == AnnotationTree {
		r = append(r, fmt.Sprintf("%s%s %s", prefix, nk, colorize("{", 3, opts.Color)))
	} else {
		refPath := strings.Join(mapQuote(child.Path()), ".")
		r = append(r, fmt.Sprintf("%s%s %s %s %s", prefix, colorize(nk, 2, opts.Color), colorize("=>", 10, opts.Color), colorize("{", 3, opts.Color), colorize("# ref:"+refPath, 7, opts.Color)))
	}
	sub, err := child.dumpLines(prefix+"  ", nil, opts, nextDepthLimit)
	if err != nil {
		return nil, err
	}
	r = append(r, sub...)
	r = append(r, prefix+colorize("}", 3, opts.Color))
	return r, nil
}

func mapQuote(path []string) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = quoteKey(p)
	}
	return out
}
