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

// Leaf holds an arbitrary JSON-encodable value: a string, number, bool,
// null, or (unparsed by this package) list/object.
type Leaf struct {
	base
	value any
}

// NewLeaf returns a fresh, unattached, unpersisted Leaf wrapping value.
func NewLeaf(value any) *Leaf {
	return &Leaf{value: value}
}

func (l *Leaf) persist(s *Store) error {
	if !l.Attached() {
		panic("store: asked to persist a detached leaf")
	}
	if _, ok := l.Offset(); ok {
		panic("store: leaf is already persisted")
	}
	offset, err := s.record(KindLeaf, l.value)
	if err != nil {
		return err
	}
	l.setOffset(offset)
	return nil
}

// Get returns the leaf's current value.
func (l *Leaf) Get() any {
	return l.value
}

// Set replaces the leaf's value and marks it dirty. value must not be an
// Item (a Node or Leaf can't be nested as a raw leaf value — use Node.Set
// to attach a subtree under a key).
func (l *Leaf) Set(value any) {
	if _, ok := value.(Item); ok {
		panic("store: a leaf's value cannot be an Item")
	}
	l.value = value
	l.changed()
}

// Clone returns a new, unattached Leaf with the same value.
func (l *Leaf) Clone() Item {
	return NewLeaf(l.value)
}
