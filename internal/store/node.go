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

package store

import (
	"errors"
	"fmt"
	"sort"
	"weak"
)

// entryKind tags which of childEntry's fields is live.
type entryKind int

const (
	// entryCold: a persisted child known only by offset, never loaded.
	entryCold entryKind = iota
	// entryWeak: a persisted child that's been loaded and weakly
	// cached (volatile mode only) — may have evaporated.
	entryWeak
	// entryStrong: a child held by a direct, permanent reference —
	// either because it's dirty (never has an offset to weaken on) or
	// because this Node isn't in volatile mode.
	entryStrong
)

type childEntry struct {
	kind   entryKind
	offset int64
	weak   weak.Pointer[itemBox]
	strong Item
}

// Node is a JSON-object-shaped subtree: a mapping from string keys to child
// Items (Nodes or Leaves).
type Node struct {
	base
	store   *Store
	entries map[string]*childEntry
}

// NewNode returns a fresh, empty, unattached, unpersisted Node.
func NewNode() *Node {
	return &Node{entries: make(map[string]*childEntry)}
}

// newLoadedNode builds a Node freshly read back from storage: every entry
// starts cold (offset known, nothing loaded yet).
func newLoadedNode(raw map[string]int64, s *Store, offset int64) *Node {
	n := &Node{store: s, entries: make(map[string]*childEntry, len(raw))}
	for k, v := range raw {
		n.entries[k] = &childEntry{kind: entryCold, offset: v}
	}
	n.setOffset(offset)
	return n
}

func (n *Node) childChanged(key string) {
	// A weakly cached child that changed is held strongly again, so the
	// next persist writes its new content rather than its old offset.
	if e, ok := n.entries[key]; ok && e.kind == entryWeak {
		if box := e.weak.Value(); box != nil {
			e.kind = entryStrong
			e.strong = box.item
			e.weak = weak.Pointer[itemBox]{}
		}
	}
	n.changed()
}

func (n *Node) persist(s *Store) error {
	if !n.Attached() {
		panic("store: asked to persist a detached node")
	}
	if n.store == nil {
		n.store = s
	}
	keys := n.Keys()
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		e := n.entries[key]
		switch e.kind {
		case entryCold, entryWeak:
			out[key] = e.offset
		case entryStrong:
			offset, ok := e.strong.Offset()
			if !ok {
				if err := e.strong.persist(s); err != nil {
					return err
				}
				offset, _ = e.strong.Offset()
			}
			if s.volatile {
				item := e.strong
				e.kind = entryWeak
				e.offset = offset
				e.weak = s.cache.makeWeak(offset, item)
				e.strong = nil
			}
			out[key] = offset
		}
	}
	offset, err := s.record(KindNode, out)
	if err != nil {
		return err
	}
	n.setOffset(offset)
	return nil
}

// Keys returns the node's keys in sorted order.
func (n *Node) Keys() []string {
	keys := make([]string, 0, len(n.entries))
	for k := range n.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key exists directly under this node.
func (n *Node) Has(key string) bool {
	_, ok := n.entries[key]
	return ok
}

// Get returns the child stored at key, loading and caching it from
// storage on first access if necessary.
func (n *Node) Get(key string) (Item, error) {
	e, ok := n.entries[key]
	if !ok {
		return nil, fmt.Errorf("store: no such key %q: %w", key, ErrKeyNotFound)
	}
	switch e.kind {
	case entryStrong:
		return e.strong, nil
	case entryWeak:
		if box := e.weak.Value(); box != nil {
			return box.item, nil
		}
		return n.resolveCold(key, e)
	case entryCold:
		return n.resolveCold(key, e)
	}
	panic("store: unreachable entry kind")
}

// resolveCold loads the item at e.offset from storage, attaches it to this
// node under key, and updates e in place to entryWeak (volatile) or
// entryStrong (non-volatile).
func (n *Node) resolveCold(key string, e *childEntry) (Item, error) {
	item, err := n.store.load(e.offset)
	if err != nil {
		return nil, err
	}
	if err := item.attach(Link{Parent: n, Key: key}); err != nil {
		return nil, err
	}
	if n.store.volatile {
		e.kind = entryWeak
		e.weak = n.store.cache.makeWeak(e.offset, item)
	} else {
		e.kind = entryStrong
		e.strong = item
	}
	return item, nil
}

// Set attaches value under key, replacing whatever was there. The caller
// must not reuse value anywhere else in the tree: an Item may have at most
// one parent link at a time.
func (n *Node) Set(key string, value Item) error {
	if err := value.attach(Link{Parent: n, Key: key}); err != nil {
		return err
	}
	if old, ok := n.entries[key]; ok {
		prev := old.strong
		if old.kind == entryWeak {
			if box := old.weak.Value(); box != nil {
				prev = box.item
			}
		}
		if prev != nil {
			if err := prev.detach(); err != nil {
				return err
			}
		}
	}
	if offset, ok := value.Offset(); ok && n.store != nil && n.store.volatile {
		n.entries[key] = &childEntry{kind: entryWeak, offset: offset, weak: n.store.cache.makeWeak(offset, value)}
	} else {
		n.entries[key] = &childEntry{kind: entryStrong, strong: value}
	}
	n.changed()
	return nil
}

// Remove detaches and returns the child at key.
func (n *Node) Remove(key string) (Item, error) {
	item, err := n.Get(key)
	if err != nil {
		return nil, err
	}
	if err := item.detach(); err != nil {
		return nil, err
	}
	delete(n.entries, key)
	n.changed()
	return item, nil
}

// NodeFor returns the Node stored at key, creating an empty one (and
// invoking createdCB, if non-nil, on it) if the key doesn't yet exist. It
// panics if the existing value at key is a Leaf, not a Node.
func (n *Node) NodeFor(key string, createdCB func(*Node)) (*Node, error) {
	item, err := n.Get(key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
		child := NewNode()
		if err := n.Set(key, child); err != nil {
			return nil, err
		}
		if createdCB != nil {
			createdCB(child)
		}
		return child, nil
	}
	child, ok := item.(*Node)
	if !ok {
		panic(fmt.Sprintf("store: %q is a leaf, not a node", key))
	}
	return child, nil
}

// Clone returns a deep, detached copy of the node and every descendant.
func (n *Node) Clone() Item {
	c := NewNode()
	for _, key := range n.Keys() {
		value, err := n.Get(key)
		if err != nil {
			// Keys() only ever returns keys that exist.
			panic(err)
		}
		if err := c.Set(key, value.Clone()); err != nil {
			panic(err)
		}
	}
	return c
}

// Clear removes every child, returning what was removed.
func (n *Node) Clear() (map[string]Item, error) {
	out := make(map[string]Item, len(n.entries))
	for _, key := range n.Keys() {
		item, err := n.Remove(key)
		if err != nil {
			return nil, err
		}
		out[key] = item
	}
	return out, nil
}

// Preload recursively loads every descendant, forcing any cold or
// evaporated-weak entries to resolve.
func (n *Node) Preload() error {
	for _, key := range n.Keys() {
		item, err := n.Get(key)
		if err != nil {
			return err
		}
		if child, ok := item.(*Node); ok {
			if err := child.Preload(); err != nil {
				return err
			}
		}
	}
	return nil
}
