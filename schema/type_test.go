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

package schema_test

import (
	"errors"
	"testing"

	"github.com/fjolliton/conftree/schema"
	"github.com/fjolliton/conftree/tree"
)

func userType() *schema.Type {
	return schema.NewType(map[string]schema.KeySpec{
		"name": {Type: schema.String(), Required: func(*tree.Tree) bool { return true }},
		"age":  {Type: schema.Int()},
	})
}

func rootType(user *schema.Type) *schema.Type {
	return schema.NewType(map[string]schema.KeySpec{
		"user": {Type: user, Required: func(*tree.Tree) bool { return true }},
	})
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	userVal, err := cfg.Get("user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	user := userVal.(*tree.Tree)
	err = user.Set("nickname", "bob")
	if err == nil {
		t.Fatal("Set on an unrecognized key succeeded, want a ValidationError")
	}
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("error = %v, want wrapping ErrValidation", err)
	}
}

func TestValidateRejectsWrongValueType(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	userVal, err := cfg.Get("user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	user := userVal.(*tree.Tree)
	err = user.Set("name", float64(5))
	if err == nil {
		t.Fatal("Set(\"name\", 5) succeeded, want a ValidationError (name must be a string)")
	}
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("error = %v, want wrapping ErrValidation", err)
	}
}

func TestValidateAcceptsCorrectLeaf(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	userVal, err := cfg.Get("user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	user := userVal.(*tree.Tree)
	if err := user.Set("name", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := user.Set("age", float64(30)); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestSetupCreatesRequiredSubtree(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	has, err := cfg.Has("user")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Error("Setup did not create the required \"user\" subtree on open")
	}
}

func TestCheckRejectsMissingRequiredLeaf(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	_, err = cfg.Commit()
	if err == nil {
		t.Fatal("Commit succeeded without the required \"name\" leaf set, want an error")
	}
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("error = %v, want wrapping ErrValidation", err)
	}
}

func TestCheckPassesWhenRequiredLeafSet(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	userVal, err := cfg.Get("user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := userVal.(*tree.Tree).Set("name", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := cfg.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestMissingReportsAbsentRequiredKey(t *testing.T) {
	u := userType()
	cfg, err := tree.Open("", rootType(u), false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	userVal, err := cfg.Get("user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	missing, err := userVal.(*tree.Tree).MissingKeys()
	if err != nil {
		t.Fatalf("MissingKeys: %v", err)
	}
	if len(missing) != 1 || missing[0] != "name" {
		t.Errorf("MissingKeys() = %v, want [\"name\"]", missing)
	}
}

func TestPatternKeyMatches(t *testing.T) {
	ty := schema.NewType(map[string]schema.KeySpec{
		`^item-\d+$`: {Type: schema.Int(), Pattern: true},
	})
	cfg, err := tree.Open("", ty, false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	if err := cfg.Set("item-1", float64(5)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err = cfg.Set("notanitem", float64(5))
	if err == nil {
		t.Fatal("Set on a key that matches no pattern succeeded, want an error")
	}
}

func TestExtraKeyIsSimulated(t *testing.T) {
	ty := schema.NewType(map[string]schema.KeySpec{
		"name": {Type: schema.String()},
	}, schema.WithExtras(map[string]func(t *tree.Tree) (any, error){
		"computed": func(t *tree.Tree) (any, error) { return "derived", nil },
	}))
	cfg, err := tree.Open("", ty, false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	got, err := cfg.Get("computed")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "derived" {
		t.Errorf("Get(\"computed\") = %v, want %q", got, "derived")
	}
	keys, err := cfg.ExtraKeys()
	if err != nil {
		t.Fatalf("ExtraKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "computed" {
		t.Errorf("ExtraKeys() = %v, want [\"computed\"]", keys)
	}
}

func TestFormatReportsArg(t *testing.T) {
	u := userType()
	ty := schema.NewType(map[string]schema.KeySpec{
		"user": {Type: u, Arg: true},
	})
	cfg, err := tree.Open("", ty, false)
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	got, err := ty.Format(cfg.Tree, "user")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "arg" {
		t.Errorf("Format(\"user\") = %q, want %q", got, "arg")
	}
}
