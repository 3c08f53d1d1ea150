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

import "fmt"

// rootLinkKey is the synthetic key a Store uses to link its root Item, so
// the same attach/detach/childChanged plumbing used for ordinary node
// children also governs the root slot.
const rootLinkKey = "__ROOT__"

// parent is anything that can be told "one of my children just became
// dirty". Both *Node and *Store implement it; a freshly attached Leaf or
// Node always links to one of the two.
type parent interface {
	childChanged(key string)
}

// Link records where an Item is attached: which parent, under which key.
// Per the single-attachment invariant, an Item holds at most one Link at a
// time.
type Link struct {
	Parent parent
	Key    string
}

// Item is implemented by *Node and *Leaf. It captures the identity and
// dirty-tracking state every stored value carries, regardless of whether
// it's a subtree or a plain value.
type Item interface {
	// Offset reports the item's on-disk offset and whether it has one;
	// an Item with no offset has been modified since it was last
	// persisted (or was never persisted at all).
	Offset() (int64, bool)
	// Modified reports whether the item needs to be (re)persisted.
	Modified() bool
	// Attached reports whether the item currently has a parent link.
	Attached() bool
	// Clone returns a deep, detached copy of the item.
	Clone() Item

	persist(s *Store) error
	attach(l Link) error
	detach() error
	changed()
}

// base holds the offset/link bookkeeping shared by Node and Leaf. It is not
// itself an Item: Node and Leaf each add their own persist/Clone behavior.
type base struct {
	link   *Link
	offset *int64
}

func (b *base) Offset() (int64, bool) {
	if b.offset == nil {
		return 0, false
	}
	return *b.offset, true
}

func (b *base) Modified() bool {
	return b.offset == nil
}

// setOffset records a freshly assigned, permanent offset. It panics if the
// item already has one — persist() must never be called twice on the same
// dirty item without an intervening change.
func (b *base) setOffset(offset int64) {
	if b.offset != nil {
		panic("store: item already has an offset")
	}
	o := offset
	b.offset = &o
}

func (b *base) Attached() bool {
	return b.link != nil
}

// attach records that this item is now reachable via l. An item may hold
// at most one Link at a time (invariant I5): attaching an already-attached
// item is a programming error.
func (b *base) attach(l Link) error {
	if b.link != nil {
		panic("store: item is already attached")
	}
	b.link = &l
	return nil
}

func (b *base) detach() error {
	if b.link == nil {
		return fmt.Errorf("store: item is already detached: %w", ErrStoreError)
	}
	b.link = nil
	return nil
}

// changed marks the item dirty (clears its offset, if any) and propagates
// the change to whatever it's attached to. Propagation stops as soon as it
// reaches an ancestor that's already dirty, since that ancestor will
// already re-persist this subtree on its next commit.
func (b *base) changed() {
	if b.offset != nil {
		b.offset = nil
		if b.link != nil {
			b.link.Parent.childChanged(b.link.Key)
		}
	}
}
