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

// Package store implements the content-addressed node/leaf record layer on
// top of internal/log: a copy-on-write JSON object graph where every
// committed node or leaf is identified by its append offset.
package store

import "fmt"

// Kind is the one-byte record-type marker that prefixes every record's
// canonical JSON payload.
type Kind byte

const (
	// KindNode marks a record whose payload is a JSON object mapping
	// string keys to integer child offsets.
	KindNode Kind = '@'
	// KindLeaf marks a record whose payload is an arbitrary JSON value.
	KindLeaf Kind = '='
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("Kind(%q)", byte(k))
	}
}
