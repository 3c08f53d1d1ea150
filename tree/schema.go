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

// Package tree implements the navigable, schema-validated façade over a
// conftree store: Tree (and its root, Configuration) expose map-like
// access to a live node graph, lazily realizing subtrees on first write and
// deferring all validation to a pluggable Schema.
package tree

import "fmt"

// Schema governs what a Tree is allowed to contain and how it presents
// itself. Every method has a permissive default (see Default) so a caller
// that doesn't care about validation can pass a zero-value Default and get
// an entirely open tree.
type Schema interface {
	// Descend returns the Schema that governs the subnode reached by
	// name. The default implementation returns the receiver unchanged
	// (the whole tree shares one schema).
	Descend(t *Tree, name string) (Schema, error)
	// Validate checks that value is an acceptable leaf value for name.
	Validate(t *Tree, name string, value any) error
	// Check verifies whole-tree consistency (cross-key constraints,
	// required keys, ...) before a commit.
	Check(t *Tree) error
	// Setup initializes a freshly created (empty) node — e.g. by
	// populating required subnodes.
	Setup(t *Tree) error
	// Extra returns a set of simulated keys not actually stored in the
	// node, each resolved lazily via its thunk.
	Extra(t *Tree) (map[string]func() (any, error), error)
	// Pose offers to reinterpret a leaf's raw value as a reference to
	// another Tree (returns nil, nil to decline and keep it a plain
	// leaf).
	Pose(t *Tree, name string, value any) (*Tree, error)
	// Choices lists the possible keys at this level, for
	// autocompletion. A nil slice means "no suggestions available".
	Choices(t *Tree) ([]string, error)
	// Format reports how a key should be treated on the command line:
	// "arg" for a flattenable argument-like subtree, "" otherwise.
	Format(t *Tree, name string) (string, error)
	// FullHelp renders help text for the whole tree.
	FullHelp(t *Tree) (string, error)
	// Help renders help text for one key.
	Help(t *Tree, name string) (string, error)
	// Missing lists required keys that are absent.
	Missing(t *Tree) ([]string, error)
}

// Default is the permissive Schema every unspecified level falls back to:
// any key is allowed, any leaf value is valid, nothing is required.
type Default struct{}

func (Default) Descend(t *Tree, name string) (Schema, error) { return Default{}, nil }
func (Default) Validate(t *Tree, name string, value any) error { return nil }
func (Default) Check(t *Tree) error                            { return nil }
func (Default) Setup(t *Tree) error                             { return nil }
func (Default) Extra(t *Tree) (map[string]func() (any, error), error) { return nil, nil }
func (Default) Pose(t *Tree, name string, value any) (*Tree, error)   { return nil, nil }
func (Default) Choices(t *Tree) ([]string, error)                     { return nil, nil }
func (Default) Format(t *Tree, name string) (string, error)           { return "", nil }
func (Default) FullHelp(t *Tree) (string, error)                      { return "", nil }
func (Default) Help(t *Tree, name string) (string, error)             { return "", nil }
func (Default) Missing(t *Tree) ([]string, error)                     { return nil, nil }

// Empty is a sentinel value: setting a key to Empty{} creates a fresh,
// empty subnode there (running Setup on it) instead of a leaf.
type Empty struct{}

// Move reparents an existing Tree under a new key, instead of copying it.
// The source must be detached from wherever Source is called from exactly
// once — calling Source twice is a programming error.
type Move struct {
	source *Tree
	used   bool
}

// NewMove wraps source for a reparenting assignment: dst.Set(key,
// NewMove(source)).
func NewMove(source *Tree) Move {
	if source == nil {
		panic("tree: cannot move a nil tree")
	}
	return Move{source: source}
}

// Source returns the tree being moved. It may only be called once per
// Move value.
func (m *Move) Source() (*Tree, error) {
	if m.used {
		return nil, fmt.Errorf("tree: move already consumed: %w", ErrTreeError)
	}
	m.used = true
	return m.source, nil
}
