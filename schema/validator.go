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

package schema

import (
	"strings"

	"github.com/fjolliton/conftree/tree"
)

// ValueValidator checks that a leaf value is acceptable for a given key.
// Type.Validate hands the value over unchanged; each validator in this file
// rejects a *tree.Tree value itself.
type ValueValidator interface {
	// Desc is a short, human description of the expected shape (e.g. "an
	// integer"), used by Type.Help. An empty string suppresses that line.
	Desc() string
	Validate(t *tree.Tree, key string, value any) error
}

func pathOf(t *tree.Tree, key string) string {
	return strings.Join(append(append([]string{}, t.Path()...), key), ".")
}

type boolValidator struct{}

// Bool accepts only Go bool values.
func Bool() ValueValidator { return boolValidator{} }

func (boolValidator) Desc() string { return "a boolean (false or true)" }

func (boolValidator) Validate(t *tree.Tree, key string, value any) error {
	if _, ok := value.(*tree.Tree); ok {
		return newValidationError(pathOf(t, key), "this key must be a value, not a tree")
	}
	if _, ok := value.(bool); !ok {
		return newValidationError(pathOf(t, key), "this must be a boolean")
	}
	return nil
}

type intValidator struct{}

// Int accepts Go int, int64, or float64 values that carry an exact integer
// (JSON numbers decode to float64, so both are accepted).
func Int() ValueValidator { return intValidator{} }

func (intValidator) Desc() string { return "an integer" }

func (intValidator) Validate(t *tree.Tree, key string, value any) error {
	if _, ok := value.(*tree.Tree); ok {
		return newValidationError(pathOf(t, key), "this key must be a value, not a tree")
	}
	switch v := value.(type) {
	case int, int64:
		return nil
	case float64:
		if v == float64(int64(v)) {
			return nil
		}
	}
	return newValidationError(pathOf(t, key), "this must be an integer")
}

type stringValidator struct{}

// String accepts only Go string values.
func String() ValueValidator { return stringValidator{} }

func (stringValidator) Desc() string { return "a string" }

func (stringValidator) Validate(t *tree.Tree, key string, value any) error {
	if _, ok := value.(*tree.Tree); ok {
		return newValidationError(pathOf(t, key), "this key must be a value, not a tree")
	}
	if _, ok := value.(string); !ok {
		return newValidationError(pathOf(t, key), "this must be a string")
	}
	return nil
}
