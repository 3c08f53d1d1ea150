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

package conftree_test

import (
	"strings"
	"testing"

	"github.com/fjolliton/conftree"
)

func TestOpenInMemoryCreatesUsableConfiguration(t *testing.T) {
	cfg, err := conftree.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := cfg.Set("name", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cfg.Get("name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "alice" {
		t.Errorf("Get(\"name\") = %v, want %q", got, "alice")
	}
}

func TestCommitWithRetrySucceedsWithoutConflict(t *testing.T) {
	cfg, err := conftree.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := cfg.Set("name", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := conftree.CommitWithRetry(cfg, 3); err != nil {
		t.Fatalf("CommitWithRetry: %v", err)
	}
}

func TestFormatDiffRendersAddedLeaf(t *testing.T) {
	cfg, err := conftree.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := conftree.CommitWithRetry(cfg, 1); err != nil {
		t.Fatalf("CommitWithRetry: %v", err)
	}
	if err := cfg.Set("name", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	events, err := cfg.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	var b strings.Builder
	if err := conftree.FormatDiff(&b, events); err != nil {
		t.Fatalf("FormatDiff: %v", err)
	}
	if !strings.Contains(b.String(), `+ name: "alice"`) {
		t.Errorf("FormatDiff() = %q, want a line adding \"name\"", b.String())
	}
}
