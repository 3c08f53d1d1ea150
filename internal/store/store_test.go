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

package store_test

import (
	"errors"
	"fmt"
	"testing"

	conftreelog "github.com/fjolliton/conftree/internal/log"
	"github.com/fjolliton/conftree/internal/store"
)

func newTestStore(t *testing.T, volatile bool) *store.Store {
	t.Helper()
	l := conftreelog.OpenInMemory()
	s, err := store.Open(l, volatile)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return s
}

func TestEmptyStoreHasNullEntryPoint(t *testing.T) {
	s := newTestStore(t, false)
	_, err := s.Root()
	if !errors.Is(err, store.ErrNullEntryPoint) {
		t.Fatalf("Root() error = %v, want ErrNullEntryPoint", err)
	}
}

func TestSetRootAndCommitRoundTrip(t *testing.T) {
	for _, volatile := range []bool{false, true} {
		t.Run(fmt.Sprintf("volatile=%v", volatile), func(t *testing.T) {
			l := conftreelog.OpenInMemory()
			s, err := store.Open(l, volatile)
			if err != nil {
				t.Fatalf("store.Open: %v", err)
			}
			root := store.NewNode()
			if err := s.SetRoot(root); err != nil {
				t.Fatalf("SetRoot: %v", err)
			}
			if err := root.Set("name", store.NewLeaf("alice")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			offset, err := s.Commit()
			if err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if offset == 0 {
				t.Fatalf("Commit() offset = 0, want nonzero")
			}

			current, err := l.GetCurrent()
			if err != nil {
				t.Fatalf("GetCurrent: %v", err)
			}
			if current != offset {
				t.Errorf("log root pointer = %d, want %d", current, offset)
			}

			reopened, err := store.Open(l, volatile)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			reopenedRoot, err := reopened.Root()
			if err != nil {
				t.Fatalf("Root: %v", err)
			}
			name, err := reopenedRoot.(*store.Node).Get("name")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if name.(*store.Leaf).Get() != "alice" {
				t.Errorf("reopened name = %v, want %q", name.(*store.Leaf).Get(), "alice")
			}
		})
	}
}

func TestNodeGetSetRemove(t *testing.T) {
	s := newTestStore(t, false)
	root := store.NewNode()
	if err := s.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := root.Set("a", store.NewLeaf(float64(1))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := root.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	leaf, ok := got.(*store.Leaf)
	if !ok {
		t.Fatalf("Get(\"a\") = %T, want *store.Leaf", got)
	}
	if leaf.Get() != float64(1) {
		t.Errorf("leaf.Get() = %v, want 1", leaf.Get())
	}

	removed, err := root.Remove("a")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.Attached() {
		t.Error("removed item is still attached")
	}
	if root.Has("a") {
		t.Error("root still has key \"a\" after Remove")
	}
}

func TestNodeGetMissingKey(t *testing.T) {
	root := store.NewNode()
	_, err := root.Get("missing")
	if !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("Get(\"missing\") error = %v, want ErrKeyNotFound", err)
	}
}

func TestAttachingTwiceFails(t *testing.T) {
	root := store.NewNode()
	leaf := store.NewLeaf("x")
	if err := root.Set("a", leaf); err != nil {
		t.Fatalf("Set: %v", err)
	}
	other := store.NewNode()
	defer func() {
		if recover() == nil {
			t.Error("Set with an already-attached item did not panic")
		}
	}()
	other.Set("b", leaf)
	t.Error("Set with an already-attached item returned instead of panicking")
}

func TestNodeForCreatesMissingSubnode(t *testing.T) {
	root := store.NewNode()
	var created *store.Node
	child, err := root.NodeFor("sub", func(n *store.Node) { created = n })
	if err != nil {
		t.Fatalf("NodeFor: %v", err)
	}
	if created != child {
		t.Error("createdCB was not called with the new node")
	}
	again, err := root.NodeFor("sub", func(*store.Node) {
		t.Error("createdCB called on an existing subnode")
	})
	if err != nil {
		t.Fatalf("NodeFor (existing): %v", err)
	}
	if again != child {
		t.Error("NodeFor returned a different node on second call")
	}
}

func TestCloneIsDeepAndDetached(t *testing.T) {
	s := newTestStore(t, false)
	root := store.NewNode()
	if err := s.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := root.Set("a", store.NewLeaf("original")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clone := root.Clone().(*store.Node)
	cloneLeaf, err := clone.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if clone.Attached() {
		t.Error("clone reports attached, but it was never attached to a parent or a store")
	}

	original, err := root.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	original.(*store.Leaf).Set("changed")
	if cloneLeaf.(*store.Leaf).Get() != "original" {
		t.Errorf("clone observed the original's mutation: got %v", cloneLeaf.(*store.Leaf).Get())
	}
}

func TestCommitDetectsConcurrentModification(t *testing.T) {
	l := conftreelog.NewMemBackend()
	logA := conftreelog.Attach(l)
	logB := conftreelog.Attach(l)

	storeA, err := store.Open(logA, false)
	if err != nil {
		t.Fatalf("store.Open(A): %v", err)
	}
	storeB, err := store.Open(logB, false)
	if err != nil {
		t.Fatalf("store.Open(B): %v", err)
	}
	rootA := store.NewNode()
	if err := storeA.SetRoot(rootA); err != nil {
		t.Fatalf("SetRoot(A): %v", err)
	}
	if err := rootA.Set("a", store.NewLeaf(1.0)); err != nil {
		t.Fatalf("Set(A): %v", err)
	}
	if _, err := storeA.Commit(); err != nil {
		t.Fatalf("Commit(A): %v", err)
	}

	rootB := store.NewNode()
	if err := storeB.SetRoot(rootB); err != nil {
		t.Fatalf("SetRoot(B): %v", err)
	}
	if err := rootB.Set("b", store.NewLeaf(2.0)); err != nil {
		t.Fatalf("Set(B): %v", err)
	}
	_, err = storeB.Commit()
	if !errors.Is(err, conftreelog.ErrConcurrency) {
		t.Fatalf("Commit(B) error = %v, want wrapping ErrConcurrency", err)
	}
}

func TestDiffReportsAddedRemovedChanged(t *testing.T) {
	l := conftreelog.OpenInMemory()
	s, err := store.Open(l, false)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	root := store.NewNode()
	if err := s.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := root.Set("keep", store.NewLeaf("same")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := root.Set("mutate", store.NewLeaf("before")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := root.Set("drop", store.NewLeaf("bye")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	root2, err := s.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	n := root2.(*store.Node)
	if _, err := n.Remove("drop"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := n.Set("added", store.NewLeaf("new")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mutate, err := n.Get("mutate")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	mutate.(*store.Leaf).Set("after")

	events, err := s.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	var sawRemoved, sawAdded, sawChanged bool
	for _, e := range events {
		switch e.Kind {
		case store.DiffRemoved:
			if len(e.Path) == 1 && e.Path[0] == "drop" {
				sawRemoved = true
			}
		case store.DiffAdded:
			if len(e.Path) == 1 && e.Path[0] == "added" {
				sawAdded = true
			}
		case store.DiffChanged:
			if len(e.Path) == 1 && e.Path[0] == "mutate" {
				sawChanged = true
			}
		}
	}
	if !sawRemoved {
		t.Error("Diff() did not report removal of \"drop\"")
	}
	if !sawAdded {
		t.Error("Diff() did not report addition of \"added\"")
	}
	if !sawChanged {
		t.Error("Diff() did not report change of \"mutate\"")
	}
}
