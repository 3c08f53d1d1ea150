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

package main

import (
	"flag"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"k8s.io/klog/v2"

	"github.com/fjolliton/conftree"
	"github.com/fjolliton/conftree/tree"
)

// browseRef attaches the Tree a tview.TreeNode stands for, so selecting a
// node can read it back out.
type browseRef struct {
	t   *tree.Tree
	key string
}

func runBrowse(cfg *tree.Configuration, args []string) error {
	grid := tview.NewGrid()
	grid.SetRows(0, 8, 3).SetColumns(0, 0).SetBorders(true)

	root := tview.NewTreeNode("/").SetReference(&browseRef{t: cfg.Tree}).SetColor(tcell.ColorYellow)
	treeView := tview.NewTreeView().SetRoot(root).SetCurrentNode(root)
	grid.AddItem(treeView, 0, 0, 1, 2, 0, 0, true)

	statusView := tview.NewTextView()
	statusView.SetBorder(false)
	grid.AddItem(statusView, 1, 0, 1, 1, 0, 0, false)

	if err := flag.Set("logtostderr", "false"); err != nil {
		klog.Exitf("setting logtostderr: %v", err)
	}
	logView := tview.NewTextView()
	logView.ScrollToEnd()
	logView.SetMaxLines(10000)
	klog.SetOutput(logView)
	grid.AddItem(logView, 1, 1, 1, 1, 0, 0, false)

	helpView := tview.NewTextView()
	helpView.SetText("Enter: expand/collapse  r: reload children  c: commit  q: quit")
	grid.AddItem(helpView, 2, 0, 1, 2, 0, 0, false)

	app := tview.NewApplication()

	var expand func(node *tview.TreeNode, t *tree.Tree) error
	expand = func(node *tview.TreeNode, t *tree.Tree) error {
		node.ClearChildren()
		keys, err := t.Keys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			a, err := t.GetAnnotated(k)
			if err != nil {
				return err
			}
			child := tview.NewTreeNode(labelFor(k, a))
			switch sub := a.Value.(type) {
			case *tree.Tree:
				child.SetReference(&browseRef{t: sub, key: k}).SetColor(tcell.ColorGreen).SetSelectable(true)
			default:
				child.SetReference(&browseRef{t: t, key: k}).SetSelectable(true)
			}
			node.AddChild(child)
		}
		return nil
	}

	showStatus := func(node *tview.TreeNode) {
		ref, ok := node.GetReference().(*browseRef)
		if !ok || ref.key == "" {
			statusView.SetText("/")
			return
		}
		v, err := ref.t.GetRaw(ref.key)
		if err != nil {
			statusView.SetText(fmt.Sprintf("error: %v", err))
			return
		}
		if _, ok := v.(*tree.Tree); ok {
			statusView.SetText(ref.key + " {...}")
			return
		}
		statusView.SetText(fmt.Sprintf("%s = %v", ref.key, v))
	}

	if err := expand(root, cfg.Tree); err != nil {
		return err
	}

	treeView.SetChangedFunc(func(node *tview.TreeNode) {
		showStatus(node)
	})
	treeView.SetSelectedFunc(func(node *tview.TreeNode) {
		ref, ok := node.GetReference().(*browseRef)
		if !ok {
			return
		}
		t := ref.t
		if ref.key != "" {
			v, err := ref.t.GetRaw(ref.key)
			if err != nil {
				klog.Errorf("browse: %v", err)
				return
			}
			sub, ok := v.(*tree.Tree)
			if !ok {
				return
			}
			t = sub
		}
		if len(node.GetChildren()) > 0 {
			node.SetExpanded(!node.IsExpanded())
			return
		}
		if err := expand(node, t); err != nil {
			klog.Errorf("browse: expanding: %v", err)
			return
		}
		node.SetExpanded(true)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q':
			app.Stop()
			return nil
		case 'r':
			node := treeView.GetCurrentNode()
			ref, ok := node.GetReference().(*browseRef)
			if !ok {
				return event
			}
			t := ref.t
			if ref.key != "" {
				v, err := ref.t.GetRaw(ref.key)
				if err != nil {
					klog.Errorf("browse: %v", err)
					return event
				}
				sub, ok := v.(*tree.Tree)
				if !ok {
					return event
				}
				t = sub
			}
			if err := expand(node, t); err != nil {
				klog.Errorf("browse: reloading: %v", err)
			}
		case 'c':
			klog.Infof("committing...")
			if _, err := conftree.CommitWithRetry(cfg, 10); err != nil {
				klog.Errorf("browse: commit: %v", err)
			} else {
				klog.Infof("committed")
			}
		}
		return event
	})

	if err := app.SetRoot(grid, true).SetFocus(treeView).Run(); err != nil {
		return err
	}
	return nil
}

func labelFor(key string, a tree.Annotated) string {
	switch a.Kind {
	case tree.AnnotationTree:
		return key + "/"
	case tree.AnnotationRef:
		return key + " @"
	case tree.AnnotationExtra:
		return key + " (extra)"
	default:
		return fmt.Sprintf("%s = %v", key, a.Value)
	}
}
