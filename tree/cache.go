// Copyright 2024 The Slate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tree

import (
	"context"

	"github.com/golang/glog"
	"github.com/google/btree"

	"github.com/torao/slate-benchmark/merkle"
)

const btreeDegree = 32

// cacheItem orders resident nodes by serial number.
type cacheItem struct {
	s serial
	h merkle.Hash
}

func (a cacheItem) Less(than btree.Item) bool {
	return a.s < than.(cacheItem).s
}

// nodeReader resolves a node's hash given its serial number, the
// tree's analogue of storage/cache.NodeReader.
type nodeReader interface {
	hashAt(ctx context.Context, s serial) (merkle.Hash, error)
}

// cache is a bounded, read-only-between-rebuilds map from serial
// number to hash, warmed by a BFS walk from the root — the same
// prefill strategy storage/cache.Cache uses for the append-only log,
// adapted here to the tree's root-first serial numbering instead of
// the log's leaf-rooted (i, j) addressing.
type cache struct {
	tree   *btree.BTree
	budget int
}

func newCache(level int) *cache {
	budget := 0
	if level > 0 {
		budget = 1 << uint(level)
	}
	return &cache{tree: btree.New(btreeDegree), budget: budget}
}

func (c *cache) get(s serial) (merkle.Hash, bool) {
	item := c.tree.Get(cacheItem{s: s})
	if item == nil {
		return merkle.Hash{}, false
	}
	return item.(cacheItem).h, true
}

func (c *cache) len() int {
	return c.tree.Len()
}

func (c *cache) reset() {
	c.tree.Clear(false)
}

// prefill walks breadth-first from root, stopping before it would
// exceed the cache's budget or descend past the leaf level.
func (c *cache) prefill(ctx context.Context, r nodeReader, root serial, height uint8) error {
	if c.budget == 0 {
		return nil
	}
	queue := []serial{root}
	for len(queue) > 0 && c.tree.Len() < c.budget {
		s := queue[0]
		queue = queue[1:]
		h, err := r.hashAt(ctx, s)
		if err != nil {
			return err
		}
		c.tree.ReplaceOrInsert(cacheItem{s: s, h: h})
		if level, _ := s.levelPosition(); level+1 < height {
			queue = append(queue, s.left(), s.right())
		}
	}
	if len(queue) > 0 {
		glog.V(4).Infof("tree: cache prefill stopped at %d nodes (budget %d)", c.tree.Len(), c.budget)
	}
	return nil
}
