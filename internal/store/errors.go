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

import "errors"

// ErrStoreError is the sentinel wrapped by this package's general failures
// (malformed records, detaching an already-detached item, a diff over
// unexpected item types). ErrNullEntryPoint, ErrDetachedRoot,
// ErrKeyNotFound and ErrRootUnset are separate values that do not wrap it.
var ErrStoreError = errors.New("store: error")

// ErrNullEntryPoint is returned by Root when the store's root pointer is 0
// — the sentinel value a freshly initialized log starts with, meaning no
// root has ever been committed.
var ErrNullEntryPoint = errors.New("store: null entry point")

// ErrDetachedRoot is returned by Commit when the store's root has been
// explicitly detached and nothing has replaced it.
var ErrDetachedRoot = errors.New("store: cannot commit a detached root")

// ErrKeyNotFound is returned by Node.Get when the key doesn't exist.
var ErrKeyNotFound = errors.New("store: no such key")

// ErrRootUnset is returned by Root if the store has no root at all (neither
// an offset nor a loaded Item) — only reachable after DetachRoot.
var ErrRootUnset = errors.New("store: root unset")
