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

package log

import (
	"errors"
	"fmt"
)

// ErrCorruptedFormat is returned (wrapped) whenever the on-disk layout of a
// storage file doesn't match the format this package writes: a bad
// identifier line, a malformed root-pointer line, a record missing its
// leading tab, a record containing an embedded tab, or a line cut off
// before its newline (see ErrUnterminatedRecord).
var ErrCorruptedFormat = errors.New("log: corrupted format")

// ErrConcurrency is returned (wrapped) by SetCurrent when the caller's lease
// no longer matches the root pointer currently on disk — another writer
// committed first.
var ErrConcurrency = errors.New("log: concurrent modification")

// ErrUnterminatedRecord is returned when a line (the root pointer, or a
// record) runs off the end of the file before a terminating newline is
// found, as in a storage file truncated mid-write. It wraps
// ErrCorruptedFormat, so errors.Is matches either sentinel.
var ErrUnterminatedRecord = fmt.Errorf("log: unterminated line: %w", ErrCorruptedFormat)

// errNestedLockMsg is the programming-error panic value: the same Log handle was
// asked to lock while already holding a lock. Locks in this package are not
// reentrant, matching the single lock-state field of the original design.
const errNestedLockMsg = "log: nested lock"
