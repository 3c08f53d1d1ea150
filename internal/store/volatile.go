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

import (
	"weak"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultVolatileCacheSize bounds the "recently resolved" hot layer a
// volatile Store keeps on top of its weak references. It's small on
// purpose: the point of volatile mode is to let the garbage collector
// reclaim node subtrees nothing else is holding onto, not to pin an
// unbounded working set.
const defaultVolatileCacheSize = 256

// itemBox is the allocation a weak.Pointer actually points at. Keeping the
// Item behind a dedicated box (rather than taking a weak pointer at the
// Item interface value itself) gives every resolved child a stable address
// that the LRU layer and the weak pointer agree on.
type itemBox struct {
	item Item
}

// volatileCache is the bounded, strongly-held "recently resolved" layer
// that sits in front of the weak references a volatile Store's nodes keep
// for their children. Grounded on the teacher's dedupe cache
// (lru.New[string, func() shizzle.IndexFuture]): same bounded-recency
// idea, applied here to offset-addressed store items instead of dedupe
// futures.
type volatileCache struct {
	cache *lru.Cache[int64, *itemBox]
}

func newVolatileCache(size int) *volatileCache {
	c, err := lru.New[int64, *itemBox](size)
	if err != nil {
		// Only returns an error for a non-positive size, which this
		// package never passes.
		panic(err)
	}
	return &volatileCache{cache: c}
}

func (v *volatileCache) add(offset int64, box *itemBox) {
	if v == nil {
		return
	}
	v.cache.Add(offset, box)
}

// makeWeak wraps item in a box, registers it with the cache's hot layer,
// and returns the weak pointer a childEntry should hold.
func (v *volatileCache) makeWeak(offset int64, item Item) weak.Pointer[itemBox] {
	box := &itemBox{item: item}
	if v != nil {
		v.cache.Add(offset, box)
	}
	return weak.Make(box)
}
