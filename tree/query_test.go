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

package tree_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fjolliton/conftree/tree"
)

// buildABD constructs: {a: {b: 1, c: 2}, d: {b: 3}}
func buildABD(t *testing.T) *tree.Configuration {
	t.Helper()
	cfg := newConfig(t)
	if err := cfg.Update(map[string]any{
		"a": map[string]any{"b": float64(1), "c": float64(2)},
		"d": map[string]any{"b": float64(3)},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return cfg
}

func values(m map[string]tree.QueryResult) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Value
	}
	return out
}

func TestQueryLiteralPath(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("a.b")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{"a.b": float64(1)}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query(\"a.b\") mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryKeySet(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("a.{b,c}")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{"a.b": float64(1), "a.c": float64(2)}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query(\"a.{b,c}\") mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryStarCollides(t *testing.T) {
	cfg := buildABD(t)
	_, err := cfg.Query("*.(b)")
	if err == nil {
		t.Fatal("Query(\"*.(b)\") succeeded, want a name-collision error")
	}
	if !errors.Is(err, tree.ErrTreeError) {
		t.Errorf("error = %v, want wrapping ErrTreeError", err)
	}
}

func TestQueryKeptStarAvoidsCollision(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("(*).(b)")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{
		"a.b": float64(1),
		"d.b": float64(3),
	}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query(\"(*).(b)\") mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryDoubleStarFindsAtAnyDepth(t *testing.T) {
	cfg := newConfig(t)
	if err := cfg.Update(map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"target": float64(7),
			},
		},
		"target": float64(9),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := cfg.Query("(**).(target)")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{
		"target":   float64(9),
		"a.b.target": float64(7),
	}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query(\"(**).(target)\") mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryTopLevelCommaSeparatesExpressions(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("a.b, d.b")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{"a.b": float64(1), "d.b": float64(3)}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query(\"a.b, d.b\") mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryTopLevelCommaIsBraceAware(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("a.{b,c}, d.b")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{"a.b": float64(1), "a.c": float64(2), "d.b": float64(3)}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query(\"a.{b,c}, d.b\") mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryFilterDropsNonMatching(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("(*).(b)", tree.WithFilter(func(v any) bool {
		n, ok := v.(float64)
		return ok && n > 2
	}))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{"d.b": float64(3)}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query() with filter mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryTransformAppliesToValues(t *testing.T) {
	cfg := buildABD(t)
	got, err := cfg.Query("a.b", tree.WithTransform(func(v any) any {
		return v.(float64) * 10
	}))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := map[string]any{"a.b": float64(10)}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("Query() with transform mismatch (-want +got):\n%s", diff)
	}
}
