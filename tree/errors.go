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

import "errors"

// ErrTreeError is the general sentinel for failures this package detects
// itself that have no more specific sentinel. ErrKeyNotFound and
// ErrNotATree are separate values that do not wrap it, and errors forwarded
// from internal/store or a Schema keep their own sentinels.
var ErrTreeError = errors.New("tree: error")

// ErrKeyNotFound is returned by Set with a Move whose source has no stored
// node. Del of an absent key forwards internal/store's ErrKeyNotFound
// instead, and Get of an absent key returns a fresh, empty subtree rather
// than an error.
var ErrKeyNotFound = errors.New("tree: no such key")

// ErrNotATree is returned when an operation that requires a stored subtree
// (Keys, Clear, Clone, ...) is applied to a tree that has no node: either
// nothing was ever stored under its key, or the key holds a leaf.
var ErrNotATree = errors.New("tree: not a tree")
