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

// Package conftree is the top-level entry point: Open a Configuration
// against a file, retry a Commit across concurrent writers, and render a
// Diff stream for humans.
package conftree

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/avast/retry-go/v4"
	"k8s.io/klog/v2"

	conftreelog "github.com/fjolliton/conftree/internal/log"
	"github.com/fjolliton/conftree/internal/store"
	"github.com/fjolliton/conftree/tree"
)

// Options configures Open.
type Options struct {
	schema   tree.Schema
	volatile bool
	create   bool
}

// Option adjusts Options.
type Option func(*Options)

// WithSchema sets the schema the opened Configuration validates against.
// Without this option the tree is entirely open (tree.Default{}).
func WithSchema(s tree.Schema) Option {
	return func(o *Options) { o.schema = s }
}

// WithVolatile enables the volatile cache layer on the underlying store
// (see internal/store's weak/LRU caching).
func WithVolatile(v bool) Option {
	return func(o *Options) { o.volatile = v }
}

// WithCreate controls whether Open is allowed to create filename if it
// doesn't exist yet. Defaults to true.
func WithCreate(create bool) Option {
	return func(o *Options) { o.create = create }
}

// Open opens (or, unless WithCreate(false), creates) the store file at
// filename and returns its root Configuration. An empty filename opens a
// process-local in-memory store, for tests and one-shot tools.
func Open(filename string, opts ...Option) (*tree.Configuration, error) {
	o := Options{schema: tree.Default{}, create: true}
	for _, opt := range opts {
		opt(&o)
	}
	if filename == "" {
		return tree.OpenStore(conftreelog.OpenInMemory(), o.schema, o.volatile)
	}
	l, err := conftreelog.Open(filename, o.create, false)
	if err != nil {
		return nil, err
	}
	return tree.OpenStore(l, o.schema, o.volatile)
}

// CommitWithRetry calls cfg.Commit, retrying with backoff while it fails
// with conftreelog.ErrConcurrency — the same pattern the teacher's
// migration copier uses around its own retryable network calls. Each
// attempt re-runs the same Commit on cfg: nothing re-reads the root or
// reapplies changes in between, so a conflict with a writer that already
// advanced the root fails again on every attempt.
func CommitWithRetry(cfg *tree.Configuration, attempts uint) (int64, error) {
	var offset int64
	err := retry.Do(func() error {
		off, err := cfg.Commit()
		if err != nil {
			klog.V(1).Infof("conftree: commit attempt failed: %v", err)
			return err
		}
		offset = off
		return nil
	},
		retry.Attempts(attempts),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, conftreelog.ErrConcurrency)
		}),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return 0, fmt.Errorf("conftree: commit failed after retries: %w", err)
	}
	return offset, nil
}

// FormatDiff renders a Diff event stream as a nested, brace-delimited,
// unified-diff-like view: '+' for an added key, '-' for a removed one, '~'
// for a changed leaf.
func FormatDiff(w io.Writer, events []store.DiffEvent) error {
	depth := 0
	indent := func() string {
		s := ""
		for i := 0; i < depth; i++ {
			s += "  "
		}
		return s
	}
	for _, e := range events {
		name := ""
		if len(e.Path) > 0 {
			name = e.Path[len(e.Path)-1]
		}
		switch e.Kind {
		case store.DiffEnter:
			if _, err := fmt.Fprintf(w, "%s%s {\n", indent(), name); err != nil {
				return err
			}
			depth++
		case store.DiffLeave:
			depth--
			if _, err := fmt.Fprintf(w, "%s}\n", indent()); err != nil {
				return err
			}
		case store.DiffAdded:
			if _, err := fmt.Fprintf(w, "%s+ %s: %s\n", indent(), name, describeItem(e.New)); err != nil {
				return err
			}
		case store.DiffRemoved:
			if _, err := fmt.Fprintf(w, "%s- %s: %s\n", indent(), name, describeItem(e.Old)); err != nil {
				return err
			}
		case store.DiffChanged:
			if _, err := fmt.Fprintf(w, "%s~ %s: %s -> %s\n", indent(), name, describeItem(e.Old), describeItem(e.New)); err != nil {
				return err
			}
		}
	}
	return nil
}

// describeItem renders a store.Item for FormatDiff: a leaf shows its
// value, a node shows a bare "{...}" marker since its contents arrive as
// their own nested enter/leave events.
func describeItem(item store.Item) string {
	if item == nil {
		return "<nil>"
	}
	if leaf, ok := item.(*store.Leaf); ok {
		b, err := json.Marshal(leaf.Get())
		if err != nil {
			return fmt.Sprintf("%v", leaf.Get())
		}
		return string(b)
	}
	return "{...}"
}
