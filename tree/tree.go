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
	"errors"
	"fmt"
	"sort"

	conftreelog "github.com/fjolliton/conftree/internal/log"
	"github.com/fjolliton/conftree/internal/store"
)

// Annotation tags what kind of thing Tree.GetAnnotated resolved a key to.
type Annotation string

const (
	AnnotationTree  Annotation = "tree"
	AnnotationLeaf  Annotation = "leaf"
	AnnotationExtra Annotation = "extra"
	AnnotationRef   Annotation = "ref"
)

// Annotated pairs a resolved value with the Annotation describing it.
type Annotated struct {
	Kind  Annotation
	Value any
}

// Tree is a navigable, schema-governed view onto one node of a store. The
// root of a store is a Configuration; every other Tree is reached by
// walking Get from there.
//
// A Tree whose underlying node hasn't been created yet (because nothing
// has ever been written under it) carries a nil node until a write such as
// Set forces it into existence via realize; Get only loads what is already
// stored and never creates a node.
type Tree struct {
	parent  *Tree
	name    *string
	node    *store.Node
	schema  Schema
	entries map[string]*Tree
}

func newTree(parent *Tree, name *string, node *store.Node, schema Schema) *Tree {
	return &Tree{parent: parent, name: name, node: node, schema: schema}
}

// Name returns the key this tree is reached by, and false for the root.
func (t *Tree) Name() (string, bool) {
	if t.name == nil {
		return "", false
	}
	return *t.name, true
}

// Parent returns the enclosing tree, or nil for the root.
func (t *Tree) Parent() *Tree {
	return t.parent
}

// Root walks up to the outermost tree.
func (t *Tree) Root() *Tree {
	if t.parent == nil {
		return t
	}
	return t.parent.Root()
}

// Path returns the sequence of keys from the root down to this tree.
func (t *Tree) Path() []string {
	if t.name == nil {
		return nil
	}
	return append(t.parent.Path(), *t.name)
}

// Schema returns the schema governing this tree's keys.
func (t *Tree) Schema() Schema {
	return t.schema
}

func (t *Tree) pathString() string {
	path := t.Path()
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// load ensures t.node reflects whatever is currently stored on disk for
// this key, without creating anything. A Tree whose key has never been
// written keeps a nil node after this call.
func (t *Tree) load() error {
	if t.node != nil || t.parent == nil {
		return nil
	}
	if err := t.parent.load(); err != nil {
		return err
	}
	if t.parent.node == nil {
		return nil
	}
	item, err := t.parent.node.Get(*t.name)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	if n, ok := item.(*store.Node); ok {
		t.node = n
	}
	return nil
}

// realize ensures t.node exists, creating (and recursively realizing) it
// and its ancestors if necessary. Freshly created nodes run their schema's
// Setup.
func (t *Tree) realize() error {
	if t.node != nil {
		return nil
	}
	if t.parent == nil {
		return fmt.Errorf("tree: root has no node: %w", ErrTreeError)
	}
	if err := t.parent.realize(); err != nil {
		return err
	}
	var created bool
	child, err := t.parent.node.NodeFor(*t.name, func(*store.Node) { created = true })
	if err != nil {
		return err
	}
	t.node = child
	if created {
		if err := t.schema.Setup(t); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the keys actually stored under this tree (not including
// Extra keys).
func (t *Tree) Keys() ([]string, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	if t.node == nil {
		return nil, fmt.Errorf("tree: %s: %w", t.pathString(), ErrNotATree)
	}
	return t.node.Keys(), nil
}

// ExtraKeys returns the schema-simulated keys available at this level.
func (t *Tree) ExtraKeys() ([]string, error) {
	extra, err := t.schema.Extra(t)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// MissingKeys returns the required keys the schema reports as absent.
func (t *Tree) MissingKeys() ([]string, error) {
	return t.schema.Missing(t)
}

// Choices returns the schema's suggested keys at this level, for
// autocompletion.
func (t *Tree) Choices() ([]string, error) {
	return t.schema.Choices(t)
}

// Has reports whether name is stored directly under this tree.
func (t *Tree) Has(name string) (bool, error) {
	if err := t.load(); err != nil {
		return false, err
	}
	if t.node == nil {
		return false, nil
	}
	return t.node.Has(name), nil
}

func (t *Tree) get(name string, raw bool, def any, hasDefault bool) (Annotated, error) {
	if cached, ok := t.entries[name]; ok {
		return Annotated{Kind: AnnotationTree, Value: cached}, nil
	}
	extra, err := t.schema.Extra(t)
	if err != nil {
		return Annotated{}, err
	}
	if thunk, ok := extra[name]; ok {
		v, err := thunk()
		if err != nil {
			return Annotated{}, err
		}
		return Annotated{Kind: AnnotationExtra, Value: v}, nil
	}
	if err := t.load(); err != nil {
		return Annotated{}, err
	}
	var item store.Item
	if t.node != nil {
		it, err := t.node.Get(name)
		if err != nil {
			if !errors.Is(err, store.ErrKeyNotFound) {
				return Annotated{}, err
			}
		} else {
			item = it
		}
	}
	if leaf, ok := item.(*store.Leaf); ok {
		if !raw {
			ref, err := t.schema.Pose(t, name, leaf.Get())
			if err != nil {
				return Annotated{}, err
			}
			if ref != nil {
				return Annotated{Kind: AnnotationRef, Value: ref}, nil
			}
		}
		return Annotated{Kind: AnnotationLeaf, Value: leaf.Get()}, nil
	}
	if item == nil && hasDefault {
		return Annotated{Value: def}, nil
	}
	var childNode *store.Node
	if n, ok := item.(*store.Node); ok {
		childNode = n
	}
	childSchema, err := t.schema.Descend(t, name)
	if err != nil {
		return Annotated{}, err
	}
	nm := name
	child := newTree(t, &nm, childNode, childSchema)
	if t.entries == nil {
		t.entries = map[string]*Tree{}
	}
	t.entries[name] = child
	return Annotated{Kind: AnnotationTree, Value: child}, nil
}

// Get resolves name: a *Tree for a subnode (or a posed leaf-as-reference),
// or the raw leaf value otherwise.
func (t *Tree) Get(name string) (any, error) {
	a, err := t.get(name, false, nil, false)
	if err != nil {
		return nil, err
	}
	return a.Value, nil
}

// GetRaw is like Get but never applies the schema's Pose reinterpretation
// — a leaf always comes back as its raw value.
func (t *Tree) GetRaw(name string) (any, error) {
	a, err := t.get(name, true, nil, false)
	if err != nil {
		return nil, err
	}
	return a.Value, nil
}

// GetDefault is like Get, but returns def instead of descending into a
// fresh (uncommitted) subtree when name doesn't exist yet.
func (t *Tree) GetDefault(name string, def any) (any, error) {
	a, err := t.get(name, false, def, true)
	if err != nil {
		return nil, err
	}
	return a.Value, nil
}

// GetAnnotated resolves name the way Get does, but also reports which kind
// of value it found.
func (t *Tree) GetAnnotated(name string) (Annotated, error) {
	return t.get(name, false, nil, false)
}

// GetPath walks a dotted key path down from this tree.
func (t *Tree) GetPath(path []string) (any, error) {
	if len(path) == 0 {
		return t, nil
	}
	if len(path) == 1 {
		return t.Get(path[0])
	}
	child, err := t.Get(path[0])
	if err != nil {
		return nil, err
	}
	ct, ok := child.(*Tree)
	if !ok {
		return nil, fmt.Errorf("tree: %s: %w", path[0], ErrNotATree)
	}
	return ct.GetPath(path[1:])
}

// Del removes name from this tree.
func (t *Tree) Del(name string) error {
	if err := t.load(); err != nil {
		return err
	}
	if t.node != nil {
		if _, err := t.node.Remove(name); err != nil {
			return err
		}
	}
	delete(t.entries, name)
	return nil
}

// Clear removes every key under this tree.
func (t *Tree) Clear() error {
	if err := t.load(); err != nil {
		return err
	}
	if t.node == nil {
		return fmt.Errorf("tree: %s: %w", t.pathString(), ErrNotATree)
	}
	for _, k := range t.node.Keys() {
		if err := t.Del(k); err != nil {
			return err
		}
	}
	return nil
}

// Preload forces every descendant subtree to load from storage.
func (t *Tree) Preload() error {
	if err := t.load(); err != nil {
		return err
	}
	if t.node == nil {
		return nil
	}
	return t.node.Preload()
}

// Clone returns a detached copy of this tree's subtree, sharing this
// tree's schema but with no parent — suitable for Set-ing elsewhere.
func (t *Tree) Clone() (*Tree, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	if t.node == nil {
		return nil, fmt.Errorf("tree: %s: %w", t.pathString(), ErrNotATree)
	}
	cloned, ok := t.node.Clone().(*store.Node)
	if !ok {
		panic("tree: Node.Clone returned a non-Node")
	}
	return newTree(nil, nil, cloned, t.schema), nil
}

// Set assigns value under name. value may be a raw JSON-encodable value, an
// Empty (to create an empty subnode), a Move (to reparent an existing
// tree), or another *Tree (to copy one).
func (t *Tree) Set(name string, value any) error {
	switch v := value.(type) {
	case Move:
		return t.setMove(name, v)
	case *Tree:
		return t.setCopy(name, v)
	case Empty:
		return t.setEmpty(name)
	default:
		return t.setLeaf(name, value)
	}
}

func (t *Tree) setLeaf(name string, value any) error {
	if err := t.schema.Validate(t, name, value); err != nil {
		return err
	}
	if err := t.realize(); err != nil {
		return err
	}
	return t.node.Set(name, store.NewLeaf(value))
}

func (t *Tree) setEmpty(name string) error {
	childSchema, err := t.schema.Descend(t, name)
	if err != nil {
		return err
	}
	if err := t.realize(); err != nil {
		return err
	}
	n := store.NewNode()
	if err := t.node.Set(name, n); err != nil {
		return err
	}
	nm := name
	child := newTree(t, &nm, n, childSchema)
	if t.entries == nil {
		t.entries = map[string]*Tree{}
	}
	t.entries[name] = child
	return childSchema.Setup(child)
}

func (t *Tree) setCopy(name string, src *Tree) error {
	if cached, ok := t.entries[name]; ok && cached == src {
		return nil
	}
	if err := t.precheck(name, src); err != nil {
		return err
	}
	if err := src.load(); err != nil {
		return err
	}
	if src.node == nil {
		return fmt.Errorf("tree: %s: %w", src.pathString(), ErrNotATree)
	}
	cloned, ok := src.node.Clone().(*store.Node)
	if !ok {
		panic("tree: Node.Clone returned a non-Node")
	}
	if err := t.realize(); err != nil {
		return err
	}
	if err := t.patch(name, src); err != nil {
		return err
	}
	return t.node.Set(name, cloned)
}

func (t *Tree) setMove(name string, m Move) error {
	src, err := m.Source()
	if err != nil {
		return err
	}
	if src.parent == nil {
		return fmt.Errorf("tree: cannot move the root: %w", ErrTreeError)
	}
	if err := src.load(); err != nil {
		return err
	}
	if src.node == nil {
		return fmt.Errorf("tree: %s: %w", src.pathString(), ErrKeyNotFound)
	}
	if err := t.precheck(name, src); err != nil {
		return err
	}
	for p := t; p != nil; p = p.parent {
		if p.node != nil && p.node == src.node {
			panic("tree: cannot move a tree into its own descendant")
		}
	}
	if err := t.realize(); err != nil {
		return err
	}
	moved, err := src.parent.node.Remove(*src.name)
	if err != nil {
		return err
	}
	if err := t.patch(name, src); err != nil {
		return err
	}
	if err := t.node.Set(name, moved); err != nil {
		return err
	}
	delete(t.entries, name)
	delete(src.parent.entries, *src.name)
	src.parent = t
	nm := name
	src.name = &nm
	return nil
}

// precheck validates that src, reinterpreted under the schema name would
// have at t, is internally consistent — run before a copy or move actually
// touches any storage.
func (t *Tree) precheck(name string, src *Tree) error {
	schema, err := t.schema.Descend(t, name)
	if err != nil {
		return err
	}
	return src.check(schema)
}

// check validates every value currently reachable from t against schema,
// recursively, using the live (pose-resolving) view.
func (t *Tree) check(schema Schema) error {
	if err := t.realize(); err != nil {
		return err
	}
	for _, k := range t.node.Keys() {
		a, err := t.get(k, false, nil, false)
		if err != nil {
			return err
		}
		if a.Kind != AnnotationTree {
			if err := schema.Validate(t, k, a.Value); err != nil {
				return err
			}
			continue
		}
		child := a.Value.(*Tree)
		childSchema, err := schema.Descend(t, k)
		if err != nil {
			return err
		}
		if err := child.check(childSchema); err != nil {
			return err
		}
	}
	return nil
}

// patch re-homes src under this tree's schema at name, recursively
// updating every descendant's schema pointer to match its new ancestry.
func (t *Tree) patch(name string, src *Tree) error {
	childSchema, err := t.schema.Descend(t, name)
	if err != nil {
		return err
	}
	src.schema = childSchema
	return src.recPatch()
}

func (t *Tree) recPatch() error {
	if err := t.realize(); err != nil {
		return err
	}
	for _, k := range t.node.Keys() {
		a, err := t.get(k, false, nil, false)
		if err != nil {
			return err
		}
		if a.Kind == AnnotationTree {
			if err := t.patch(k, a.Value.(*Tree)); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitCheck runs the schema's whole-tree Check at every level of the
// structural (non-pose-resolved) subtree, in preparation for a commit.
func (t *Tree) commitCheck() error {
	if err := t.schema.Check(t); err != nil {
		return err
	}
	if err := t.realize(); err != nil {
		return err
	}
	for _, k := range t.node.Keys() {
		a, err := t.get(k, true, nil, false)
		if err != nil {
			return err
		}
		if a.Kind == AnnotationTree {
			if err := a.Value.(*Tree).commitCheck(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToJSON renders the tree (and every descendant) as a plain
// map[string]any, suitable for json.Marshal.
func (t *Tree) ToJSON() (map[string]any, error) {
	keys, err := t.Keys()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		a, err := t.get(k, true, nil, false)
		if err != nil {
			return nil, err
		}
		switch a.Kind {
		case AnnotationTree:
			v, err := a.Value.(*Tree).ToJSON()
			if err != nil {
				return nil, err
			}
			out[k] = v
		case AnnotationLeaf:
			out[k] = a.Value
		}
	}
	return out, nil
}

// Update recursively merges values into the tree: a map[string]any value
// descends, anything else is Set directly.
func (t *Tree) Update(values map[string]any) error {
	for key, value := range values {
		if m, ok := value.(map[string]any); ok {
			child, err := t.Get(key)
			if err != nil {
				return err
			}
			childTree, ok := child.(*Tree)
			if !ok {
				return fmt.Errorf("tree: %s: %w", key, ErrNotATree)
			}
			if err := childTree.Update(m); err != nil {
				return err
			}
		} else if err := t.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Configuration is the root of a conftree store: a Tree with nowhere
// further up, bound to the store.Store that backs it.
type Configuration struct {
	*Tree
	store *store.Store
}

// Open opens (creating if necessary) the storage file at filename and
// returns its Configuration root. Pass an empty filename for a
// process-local, in-memory configuration (handy for tests).
func Open(filename string, schema Schema, volatile bool) (*Configuration, error) {
	if schema == nil {
		schema = Default{}
	}
	var l *conftreelog.Log
	if filename == "" {
		l = conftreelog.OpenInMemory()
	} else {
		opened, err := conftreelog.Open(filename, true, false)
		if err != nil {
			return nil, err
		}
		l = opened
	}
	return OpenStore(l, schema, volatile)
}

// OpenStore builds a Configuration directly from an already-open log
// handle — the seam tests use to share one in-memory backend between
// independent Configuration instances.
func OpenStore(l *conftreelog.Log, schema Schema, volatile bool) (*Configuration, error) {
	if schema == nil {
		schema = Default{}
	}
	st, err := store.Open(l, volatile)
	if err != nil {
		return nil, err
	}
	root, err := st.Root()
	setupNeeded := false
	if err != nil {
		if !errors.Is(err, store.ErrNullEntryPoint) {
			return nil, err
		}
		n := store.NewNode()
		if err := st.SetRoot(n); err != nil {
			return nil, err
		}
		setupNeeded = true
		root = n
	}
	rootNode, ok := root.(*store.Node)
	if !ok {
		return nil, fmt.Errorf("tree: root is not a node: %w", ErrNotATree)
	}
	cfg := &Configuration{Tree: newTree(nil, nil, rootNode, schema), store: st}
	if setupNeeded {
		if err := cfg.schema.Setup(cfg.Tree); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Store exposes the underlying store.Store, for callers that need raw
// storage operations like DumpStorage.
func (c *Configuration) Store() *store.Store {
	return c.store
}

// Commit validates the whole tree against its schema, then persists it and
// attempts to advance the log's root pointer.
func (c *Configuration) Commit() (int64, error) {
	if err := c.commitCheck(); err != nil {
		return 0, err
	}
	return c.store.Commit()
}

// Diff reports what changed between the root as last committed (or
// opened) and the current in-memory tree.
func (c *Configuration) Diff() ([]store.DiffEvent, error) {
	return c.store.Diff()
}
