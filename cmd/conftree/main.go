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

// conftree is a command-line client for a single conftree store file: get,
// set, delete, query, diff, dump, commit, and an interactive browse mode.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
	"k8s.io/klog/v2"

	"github.com/fjolliton/conftree"
	"github.com/fjolliton/conftree/tree"
)

var storePath = flag.String("store", "", "Path to the conftree store file. Empty opens a throwaway in-memory store.")

func main() {
	klog.InitFlags(nil)
	if len(os.Args) < 2 {
		klog.Exitf("Usage: %s [flags] <get|set|del|has|keys|query|diff|dump|commit|browse> ...", os.Args[0])
	}
	cmd := os.Args[1]
	if err := flag.CommandLine.Parse(os.Args[2:]); err != nil {
		klog.Exitf("parsing flags: %v", err)
	}
	args := flag.Args()

	cfg, err := conftree.Open(*storePath)
	if err != nil {
		klog.Exitf("opening %q: %v", *storePath, err)
	}

	var runErr error
	switch cmd {
	case "get":
		runErr = runGet(cfg, args)
	case "set":
		runErr = runSet(cfg, args)
	case "del":
		runErr = runDel(cfg, args)
	case "has":
		runErr = runHas(cfg, args)
	case "keys":
		runErr = runKeys(cfg, args)
	case "query":
		runErr = runQuery(cfg, args)
	case "diff":
		runErr = runDiff(cfg, args)
	case "dump":
		runErr = runDump(cfg, args)
	case "commit":
		runErr = runCommit(cfg, args)
	case "browse":
		runErr = runBrowse(cfg, args)
	default:
		klog.Exitf("unknown subcommand %q", cmd)
	}
	if runErr != nil {
		klog.Exitf("%s: %v", cmd, runErr)
	}
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

func runGet(cfg *tree.Configuration, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <dotted.path>")
	}
	v, err := cfg.GetPath(splitPath(args[0]))
	if err != nil {
		return err
	}
	if t, ok := v.(*tree.Tree); ok {
		out, err := t.ToJSON()
		if err != nil {
			return err
		}
		return printJSON(out)
	}
	return printJSON(v)
}

func runSet(cfg *tree.Configuration, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set <dotted.path> <json-value>")
	}
	var value any
	if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
		return fmt.Errorf("parsing value as JSON: %w", err)
	}
	path := splitPath(args[0])
	if len(path) == 0 {
		return errors.New("cannot set the root itself")
	}
	parent, err := cfg.GetPath(path[:len(path)-1])
	if err != nil {
		return err
	}
	pt, ok := parent.(*tree.Tree)
	if !ok {
		return fmt.Errorf("tree: %s: %w", strings.Join(path[:len(path)-1], "."), tree.ErrNotATree)
	}
	if err := pt.Set(path[len(path)-1], value); err != nil {
		return err
	}
	_, err = conftree.CommitWithRetry(cfg, 10)
	return err
}

func runDel(cfg *tree.Configuration, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: del <dotted.path>")
	}
	path := splitPath(args[0])
	if len(path) == 0 {
		return errors.New("cannot delete the root itself")
	}
	parent, err := cfg.GetPath(path[:len(path)-1])
	if err != nil {
		return err
	}
	pt, ok := parent.(*tree.Tree)
	if !ok {
		return fmt.Errorf("tree: %s: %w", strings.Join(path[:len(path)-1], "."), tree.ErrNotATree)
	}
	if err := pt.Del(path[len(path)-1]); err != nil {
		return err
	}
	_, err = conftree.CommitWithRetry(cfg, 10)
	return err
}

func runHas(cfg *tree.Configuration, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: has <dotted.path>")
	}
	path := splitPath(args[0])
	if len(path) == 0 {
		fmt.Println(true)
		return nil
	}
	parent, err := cfg.GetPath(path[:len(path)-1])
	if err != nil {
		return err
	}
	pt, ok := parent.(*tree.Tree)
	if !ok {
		return fmt.Errorf("tree: %s: %w", strings.Join(path[:len(path)-1], "."), tree.ErrNotATree)
	}
	has, err := pt.Has(path[len(path)-1])
	if err != nil {
		return err
	}
	fmt.Println(has)
	return nil
}

func runKeys(cfg *tree.Configuration, args []string) error {
	t := cfg.Tree
	if len(args) == 1 {
		v, err := cfg.GetPath(splitPath(args[0]))
		if err != nil {
			return err
		}
		sub, ok := v.(*tree.Tree)
		if !ok {
			return fmt.Errorf("tree: %s: %w", args[0], tree.ErrNotATree)
		}
		t = sub
	}
	keys, err := t.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func runQuery(cfg *tree.Configuration, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: query <expr>")
	}
	results, err := cfg.Query(args[0])
	if err != nil {
		return err
	}
	out := make(map[string]any, len(results))
	for k, r := range results {
		out[k] = r.Value
	}
	return printJSON(out)
}

func runDiff(cfg *tree.Configuration, args []string) error {
	events, err := cfg.Diff()
	if err != nil {
		return err
	}
	return conftree.FormatDiff(os.Stdout, events)
}

func runDump(cfg *tree.Configuration, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	help := fs.Bool("help", false, "Include schema help text")
	color := fs.String("color", "auto", "always|never|auto")
	expand := fs.Bool("expand", false, "Don't collapse arg-formatted subtrees")
	flat := fs.Bool("flat", false, "Render dotted flat key paths instead of nested braces")
	depth := fs.Int("depth", -1, "Maximum nesting depth to render (-1 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := tree.DumpOptions{
		Help:   *help,
		Color:  resolveColor(*color),
		Expand: *expand,
		Flat:   *flat,
	}
	if *depth >= 0 {
		opts.Depth = depth
	}
	out, err := cfg.Dump(opts)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func resolveColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

func runCommit(cfg *tree.Configuration, args []string) error {
	offset, err := conftree.CommitWithRetry(cfg, 10)
	if err != nil {
		return err
	}
	klog.V(1).Infof("committed at offset %d", offset)
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
