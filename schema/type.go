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

// Package schema implements tree.Schema: a closed, keyed (optionally
// pattern-keyed) validator that a Configuration can be opened against to
// reject unknown keys, enforce required subnodes, and describe itself for
// Dump's help text.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fjolliton/conftree/tree"
)

// KeySpec describes one literal or pattern key recognized at a Type's
// level.
type KeySpec struct {
	// Type is the schema governing a subtree key (a tree.Schema), or the
	// validator governing a leaf key (a ValueValidator). Nil means "an
	// unconstrained subtree" (tree.Default{}).
	Type any
	// Description is shown by Help/FullHelp.
	Description string
	// Pattern treats the map key this KeySpec is registered under as a
	// regular expression instead of a literal key.
	Pattern bool
	// Required reports whether this key must be present. Nil means never
	// required.
	Required func(t *tree.Tree) bool
	// Cond gates whether this key is allowed at all, given the rest of
	// the tree. Nil means always allowed.
	Cond func(t *tree.Tree) bool
	// Arg marks a subtree as flattenable onto one line by Dump (Format
	// returns "arg").
	Arg bool
	// Pose offers to reinterpret this leaf's stored value as a reference
	// elsewhere. Nil means never pose.
	Pose func(t *tree.Tree, value any) (*tree.Tree, error)
}

type resolvedSpec struct {
	key      string // the literal key, or the regex source for a pattern entry
	typ      any
	desc     string
	pattern  bool
	required func(t *tree.Tree) bool
	cond     func(t *tree.Tree) bool
	arg      bool
	pose     func(t *tree.Tree, value any) (*tree.Tree, error)
}

func resolve(key string, spec KeySpec) resolvedSpec {
	r := resolvedSpec{
		key:     key,
		typ:     spec.Type,
		desc:    spec.Description,
		pattern: spec.Pattern,
		arg:     spec.Arg,
		pose:    spec.Pose,
	}
	if r.typ == nil {
		r.typ = tree.Default{}
	}
	if spec.Required != nil {
		r.required = spec.Required
	} else {
		r.required = func(*tree.Tree) bool { return false }
	}
	if spec.Cond != nil {
		r.cond = spec.Cond
	} else {
		r.cond = func(*tree.Tree) bool { return true }
	}
	return r
}

type patternEntry struct {
	re   *regexp.Regexp
	spec resolvedSpec
}

// Type is a closed-key tree.Schema: every key must match a registered
// literal or pattern KeySpec, and Check raises on anything else.
type Type struct {
	entries  map[string]resolvedSpec
	patterns []patternEntry
	extra    map[string]func(t *tree.Tree) (any, error)
	extraFn  func(t *tree.Tree) (map[string]func() (any, error), error)
	check    func(t *tree.Tree) error
}

// TypeOption configures a Type built by NewType.
type TypeOption func(*Type)

// WithCheck adds a whole-tree consistency check run after the built-in
// key-set validation.
func WithCheck(f func(t *tree.Tree) error) TypeOption {
	return func(ty *Type) { ty.check = f }
}

// WithExtras registers simulated keys that aren't actually stored — each
// resolved lazily by calling its function with the tree being read.
func WithExtras(extra map[string]func(t *tree.Tree) (any, error)) TypeOption {
	return func(ty *Type) { ty.extra = extra }
}

// WithExtraFunc registers a dynamic source of simulated keys, computed
// fresh (as a set of thunks) for every Extra call.
func WithExtraFunc(f func(t *tree.Tree) (map[string]func() (any, error), error)) TypeOption {
	return func(ty *Type) { ty.extraFn = f }
}

// NewType builds a Type from a mapping of key (or, for a KeySpec with
// Pattern set, regular expression) to KeySpec.
func NewType(mapping map[string]KeySpec, opts ...TypeOption) *Type {
	ty := &Type{
		entries: map[string]resolvedSpec{},
	}
	for key, spec := range mapping {
		r := resolve(key, spec)
		if r.pattern {
			ty.patterns = append(ty.patterns, patternEntry{re: regexp.MustCompile(key), spec: r})
		} else {
			ty.entries[key] = r
		}
	}
	for _, opt := range opts {
		opt(ty)
	}
	return ty
}

func (ty *Type) lookup(t *tree.Tree, key string) (resolvedSpec, error) {
	for _, p := range ty.patterns {
		if p.re.MatchString(key) {
			return p.spec, nil
		}
	}
	if spec, ok := ty.entries[key]; ok {
		return spec, nil
	}
	var candidates []string
	for k := range ty.entries {
		candidates = append(candidates, k)
	}
	sort.Strings(candidates)
	for _, p := range ty.patterns {
		candidates = append(candidates, fmt.Sprintf("/%s/", p.spec.key))
	}
	path := pathOf(t, key)
	if len(candidates) == 0 {
		return resolvedSpec{}, newValidationError(path, "no key is allowed at this level")
	}
	return resolvedSpec{}, newValidationError(path, "invalid key; allowed keys are: %s", strings.Join(candidates, ", "))
}

// Validate implements tree.Schema.
func (ty *Type) Validate(t *tree.Tree, key string, value any) error {
	spec, err := ty.lookup(t, key)
	if err != nil {
		return err
	}
	if v, ok := spec.typ.(ValueValidator); ok {
		return v.Validate(t, key, value)
	}
	return newValidationError(pathOf(t, key), "expected a tree, not a leaf")
}

// Descend implements tree.Schema.
func (ty *Type) Descend(t *tree.Tree, key string) (tree.Schema, error) {
	spec, err := ty.lookup(t, key)
	if err != nil {
		return nil, err
	}
	s, ok := spec.typ.(tree.Schema)
	if !ok {
		return nil, newValidationError(pathOf(t, key), "this must be a value, not a tree")
	}
	return s, nil
}

// Check implements tree.Schema.
func (ty *Type) Check(t *tree.Tree) error {
	if err := ty.checkKeys(t); err != nil {
		return err
	}
	if ty.check != nil {
		return ty.check(t)
	}
	return nil
}

func (ty *Type) checkKeys(t *tree.Tree) error {
	keys, err := t.Keys()
	if err != nil {
		return err
	}
	here := strings.Join(t.Path(), ".")
	have := map[string]bool{}
	for _, k := range keys {
		have[k] = true
	}
	var missing []string
	for k, spec := range ty.entries {
		if spec.required(t) && !have[k] {
			missing = append(missing, k)
		}
	}
	for _, k := range keys {
		spec, err := ty.lookup(t, k)
		if err != nil {
			return err
		}
		if !spec.cond(t) {
			return newValidationError(here, "key forbidden: %s", k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		plural := ""
		if len(missing) > 1 {
			plural = "s"
		}
		return newValidationError(here, "mandatory key%s missing: %s", plural, strings.Join(missing, ", "))
	}
	return nil
}

// Setup implements tree.Schema: every required subtree key is created
// empty. Required leaf keys are left unset, so Check keeps reporting them
// as missing until they are given a value.
func (ty *Type) Setup(t *tree.Tree) error {
	keys := make([]string, 0, len(ty.entries))
	for k := range ty.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec := ty.entries[k]
		if !spec.required(t) {
			continue
		}
		if _, ok := spec.typ.(ValueValidator); ok {
			continue
		}
		if err := t.Set(k, tree.Empty{}); err != nil {
			return err
		}
	}
	return nil
}

// Extra implements tree.Schema.
func (ty *Type) Extra(t *tree.Tree) (map[string]func() (any, error), error) {
	r := map[string]func() (any, error){}
	for k, fn := range ty.extra {
		fn := fn
		r[k] = func() (any, error) { return fn(t) }
	}
	if ty.extraFn != nil {
		dyn, err := ty.extraFn(t)
		if err != nil {
			return nil, err
		}
		for k, fn := range dyn {
			r[k] = fn
		}
	}
	return r, nil
}

// Pose implements tree.Schema.
func (ty *Type) Pose(t *tree.Tree, name string, value any) (*tree.Tree, error) {
	spec, err := ty.lookup(t, name)
	if err != nil {
		return nil, err
	}
	if spec.pose == nil {
		return nil, nil
	}
	return spec.pose(t, value)
}

// Choices implements tree.Schema.
func (ty *Type) Choices(t *tree.Tree) ([]string, error) {
	keys := make([]string, 0, len(ty.entries))
	for k := range ty.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Format implements tree.Schema.
func (ty *Type) Format(t *tree.Tree, name string) (string, error) {
	spec, err := ty.lookup(t, name)
	if err != nil {
		return "", nil
	}
	if spec.arg {
		return "arg", nil
	}
	return "", nil
}

// FullHelp implements tree.Schema.
func (ty *Type) FullHelp(t *tree.Tree) (string, error) {
	var r []string
	doc := func(name string, spec resolvedSpec) {
		shape := "{ ... }"
		if _, ok := spec.typ.(ValueValidator); ok {
			shape = "= ...;"
		}
		label := name
		if spec.pattern {
			label = fmt.Sprintf("/%s/", name)
		}
		r = append(r, fmt.Sprintf("%s %s", label, shape))
		if spec.required(t) {
			r = append(r, "  *Required*")
		} else {
			r = append(r, "  Optional")
		}
		if spec.desc != "" {
			r = append(r, "  Description: "+spec.desc)
		}
		r = append(r, "")
	}
	keys := make([]string, 0, len(ty.entries))
	for k := range ty.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc(k, ty.entries[k])
	}
	for _, p := range ty.patterns {
		doc(p.spec.key, p.spec)
	}
	return strings.Join(r, "\n"), nil
}

// Help implements tree.Schema.
func (ty *Type) Help(t *tree.Tree, name string) (string, error) {
	spec, err := ty.lookup(t, name)
	if err != nil {
		return "", nil
	}
	var r []string
	if spec.desc != "" {
		r = append(r, spec.desc)
	}
	if v, ok := spec.typ.(ValueValidator); ok {
		if d := v.Desc(); d != "" {
			r = append(r, "Type: "+d)
		}
	}
	if spec.pattern {
		r = append(r, "Pattern: "+spec.key)
	}
	if spec.required(t) {
		r = append(r, "Required")
	} else {
		r = append(r, "Optional")
	}
	return strings.Join(r, "\n"), nil
}

// Missing implements tree.Schema.
func (ty *Type) Missing(t *tree.Tree) ([]string, error) {
	keys, err := t.Keys()
	if err != nil {
		return nil, err
	}
	have := map[string]bool{}
	for _, k := range keys {
		have[k] = true
	}
	var missing []string
	for k, spec := range ty.entries {
		if spec.required(t) && !have[k] {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
