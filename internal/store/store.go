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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	conftreelog "github.com/fjolliton/conftree/internal/log"
)

// rootState tracks what a Store currently knows about its root.
type rootState int

const (
	rootOffsetOnly rootState = iota
	rootLoaded
	rootDetached
)

// Store is the content-addressed node/leaf layer on top of a
// conftreelog.Log. A Store observes the root pointer as it was when Open
// was called (or last Committed); call Root to navigate the live,
// possibly-modified tree, and Commit to persist changes and attempt to
// advance the log's root pointer with a compare-and-swap.
type Store struct {
	log *conftreelog.Log

	// currentRoot is the root offset this Store last observed on disk
	// (via Open or a successful Commit). It's the CAS lease for the
	// next Commit.
	currentRoot int64

	state      rootState
	rootOffset int64
	rootItem   Item

	volatile bool
	cache    *volatileCache
}

// Open returns a Store over l, observing whatever root offset is currently
// recorded there.
func Open(l *conftreelog.Log, volatile bool) (*Store, error) {
	current, err := l.GetCurrent()
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return newStore(l, current, volatile), nil
}

// OpenAt returns a Store pinned to a specific root offset, bypassing
// whatever the log's current pointer says, e.g. for a read-only view of an
// older root that doesn't disturb the live one.
func OpenAt(l *conftreelog.Log, rootOffset int64, volatile bool) *Store {
	return newStore(l, rootOffset, volatile)
}

func newStore(l *conftreelog.Log, rootOffset int64, volatile bool) *Store {
	return &Store{
		log:         l,
		currentRoot: rootOffset,
		state:       rootOffsetOnly,
		rootOffset:  rootOffset,
		volatile:    volatile,
		cache:       newVolatileCache(defaultVolatileCacheSize),
	}
}

// Volatile reports whether this store caches resolved children weakly.
func (s *Store) Volatile() bool {
	return s.volatile
}

func (s *Store) childChanged(key string) {
	if key != rootLinkKey {
		panic(fmt.Sprintf("store: unexpected child-changed key %q on root", key))
	}
}

// Root returns the store's current root Item, loading it from disk on
// first access.
func (s *Store) Root() (Item, error) {
	switch s.state {
	case rootDetached:
		return nil, ErrRootUnset
	case rootLoaded:
		return s.rootItem, nil
	case rootOffsetOnly:
		if s.rootOffset == 0 {
			return nil, ErrNullEntryPoint
		}
		item, err := s.load(s.rootOffset)
		if err != nil {
			return nil, err
		}
		if err := item.attach(Link{Parent: s, Key: rootLinkKey}); err != nil {
			return nil, err
		}
		s.rootItem = item
		s.state = rootLoaded
		return item, nil
	}
	panic("store: unreachable root state")
}

// SetRoot replaces the store's root with value.
func (s *Store) SetRoot(value Item) error {
	if err := value.attach(Link{Parent: s, Key: rootLinkKey}); err != nil {
		return err
	}
	s.rootItem = value
	s.state = rootLoaded
	return nil
}

// DetachRoot detaches and returns the current root, leaving the store with
// no root at all. Committing afterward without calling SetRoot first fails
// with ErrDetachedRoot.
func (s *Store) DetachRoot() (Item, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	if err := root.detach(); err != nil {
		return nil, err
	}
	s.rootItem = nil
	s.state = rootDetached
	return root, nil
}

// Commit persists any dirty part of the root subtree and attempts to
// advance the log's root pointer from the offset this Store last observed
// to the root's new offset. It always calls through to the log even when
// nothing changed, since that's what actually detects a concurrent writer.
func (s *Store) Commit() (int64, error) {
	var offset int64
	switch s.state {
	case rootDetached:
		return 0, ErrDetachedRoot
	case rootOffsetOnly:
		offset = s.rootOffset
	case rootLoaded:
		if off, ok := s.rootItem.Offset(); ok {
			offset = off
		} else {
			if err := s.rootItem.persist(s); err != nil {
				return 0, err
			}
			offset, _ = s.rootItem.Offset()
		}
	}
	lease := s.currentRoot
	if err := s.log.SetCurrent(offset, &lease); err != nil {
		return 0, err
	}
	s.currentRoot = offset
	klog.V(2).Infof("store: committed root at offset %d", offset)
	return offset, nil
}

func (s *Store) load(offset int64) (Item, error) {
	record, err := s.log.Load(offset)
	if err != nil {
		return nil, err
	}
	if len(record) < 2 {
		return nil, fmt.Errorf("store: record at offset %d is too short: %w", offset, ErrStoreError)
	}
	kind := Kind(record[0])
	switch kind {
	case KindNode:
		var raw map[string]int64
		if err := json.Unmarshal(record[1:], &raw); err != nil {
			return nil, fmt.Errorf("store: node at offset %d is malformed: %w", offset, ErrStoreError)
		}
		return newLoadedNode(raw, s, offset), nil
	case KindLeaf:
		var value any
		if err := json.Unmarshal(record[1:], &value); err != nil {
			return nil, fmt.Errorf("store: leaf at offset %d is malformed: %w", offset, ErrStoreError)
		}
		leaf := &Leaf{value: value}
		leaf.setOffset(offset)
		return leaf, nil
	default:
		return nil, fmt.Errorf("store: unexpected kind %q at offset %d: %w", byte(kind), offset, ErrStoreError)
	}
}

// record canonically encodes value as JSON and appends it to the log
// behind kind's one-byte marker. encoding/json already sorts map keys and
// produces compact output, matching the
// json.dumps(value, separators=(',', ':'), sort_keys=True) encoding this
// format requires for byte-stable node records.
func (s *Store) record(kind Kind, value any) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("store: encoding record: %w", err)
	}
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, byte(kind))
	framed = append(framed, data...)
	return s.log.Store(framed)
}

// DumpStorage renders every underlying log record as "offset | data" lines,
// for debugging.
func (s *Store) DumpStorage() (string, error) {
	records, err := s.log.Records()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%4d | %s\n", r.Offset, r.Data)
	}
	return b.String(), nil
}

// DiffEventKind distinguishes the five event shapes Diff emits.
type DiffEventKind int

const (
	DiffEnter DiffEventKind = iota
	DiffRemoved
	DiffAdded
	DiffChanged
	DiffLeave
)

func (k DiffEventKind) String() string {
	switch k {
	case DiffEnter:
		return "enter"
	case DiffRemoved:
		return "removed"
	case DiffAdded:
		return "added"
	case DiffChanged:
		return "changed"
	case DiffLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// DiffEvent is one step of a Diff walk. Old and/or New is nil depending on
// Kind: Added has no Old, Removed has no New, the rest have both.
type DiffEvent struct {
	Kind DiffEventKind
	Path []string
	Old  Item
	New  Item
}

// Diff compares the root as it stood when this Store was opened (or last
// committed) against the current, possibly-modified in-memory root,
// yielding enter/removed/added/changed/leave events depth-first. A node
// turning into a leaf (or vice versa) at the same path is reported as a
// single "changed" event rather than a removal plus an addition.
func (s *Store) Diff() ([]DiffEvent, error) {
	baseline := newStore(s.log, s.currentRoot, s.volatile)
	oldRoot, err := baseline.Root()
	if err != nil {
		return nil, fmt.Errorf("store: diff: loading baseline root: %w", err)
	}
	newRoot, err := s.Root()
	if err != nil {
		return nil, fmt.Errorf("store: diff: loading current root: %w", err)
	}
	oldNode, ok := oldRoot.(*Node)
	if !ok {
		return nil, fmt.Errorf("store: diff: baseline root is not a node: %w", ErrStoreError)
	}
	newNode, ok := newRoot.(*Node)
	if !ok {
		return nil, fmt.Errorf("store: diff: current root is not a node: %w", ErrStoreError)
	}

	var events []DiffEvent
	var walk func(path []string, a, b Item) error
	walk = func(path []string, a, b Item) error {
		events = append(events, DiffEvent{Kind: DiffEnter, Path: path, Old: a, New: b})

		switch av := a.(type) {
		case *Node:
			switch bv := b.(type) {
			case *Node:
				if err := diffNodes(path, av, bv, &events, walk); err != nil {
					return err
				}
			case *Leaf:
				events = append(events, DiffEvent{Kind: DiffChanged, Path: path, Old: a, New: b})
			default:
				return fmt.Errorf("store: diff: unexpected item type: %w", ErrStoreError)
			}
		case *Leaf:
			switch bv := b.(type) {
			case *Node:
				events = append(events, DiffEvent{Kind: DiffChanged, Path: path, Old: a, New: b})
			case *Leaf:
				if !canonicalEqual(av.value, bv.value) {
					events = append(events, DiffEvent{Kind: DiffChanged, Path: path, Old: a, New: b})
				}
			default:
				return fmt.Errorf("store: diff: unexpected item type: %w", ErrStoreError)
			}
		default:
			return fmt.Errorf("store: diff: unexpected item type: %w", ErrStoreError)
		}

		events = append(events, DiffEvent{Kind: DiffLeave, Path: path, Old: a, New: b})
		return nil
	}

	if err := walk(nil, oldNode, newNode); err != nil {
		return nil, err
	}
	return events, nil
}

func diffNodes(path []string, a, b *Node, events *[]DiffEvent, walk func([]string, Item, Item) error) error {
	aKeys := map[string]bool{}
	for _, k := range a.Keys() {
		aKeys[k] = true
	}
	bKeys := map[string]bool{}
	for _, k := range b.Keys() {
		bKeys[k] = true
	}
	var removed, added, common []string
	for k := range aKeys {
		if bKeys[k] {
			common = append(common, k)
		} else {
			removed = append(removed, k)
		}
	}
	for k := range bKeys {
		if !aKeys[k] {
			added = append(added, k)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	sort.Strings(common)

	for _, k := range removed {
		item, err := a.Get(k)
		if err != nil {
			return err
		}
		*events = append(*events, DiffEvent{Kind: DiffRemoved, Path: appendPath(path, k), Old: item})
	}
	for _, k := range added {
		item, err := b.Get(k)
		if err != nil {
			return err
		}
		*events = append(*events, DiffEvent{Kind: DiffAdded, Path: appendPath(path, k), New: item})
	}
	for _, k := range common {
		ai, err := a.Get(k)
		if err != nil {
			return err
		}
		bi, err := b.Get(k)
		if err != nil {
			return err
		}
		if err := walk(appendPath(path, k), ai, bi); err != nil {
			return err
		}
	}
	return nil
}

func appendPath(path []string, key string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = key
	return out
}

// canonicalEqual compares two decoded JSON values for equality by
// re-encoding them canonically, sidestepping map-ordering and
// NaN-in-interface{} concerns that a direct reflect.DeepEqual would hit.
func canonicalEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
