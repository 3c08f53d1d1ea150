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
	"errors"
	"fmt"
)

// ErrValidation is the sentinel every ValidationError wraps.
var ErrValidation = errors.New("schema: validation error")

// ValidationError reports a schema violation at a specific dotted path.
type ValidationError struct {
	Path string
	Msg  string
}

func newValidationError(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	path := e.Path
	if path == "" {
		path = "ROOT"
	}
	return fmt.Sprintf("[%s] %s", path, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
