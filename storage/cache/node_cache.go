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

// Package cache implements the log's bounded node cache: a BFS prefill
// from the current root down to a configurable level budget, so that
// high-traffic, near-root nodes stay resident while the rest of the path
// falls through to storage on a miss.
package cache

import (
	"context"

	"github.com/golang/glog"
	"github.com/google/btree"

	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/merkle/compact"
)

// NodeReader resolves the hash of a single node address. The log
// implements it, backed by its block storage; the perfect binary tree
// uses its own serial-numbered reader instead.
type NodeReader interface {
	GetNode(ctx context.Context, id compact.NodeID) (merkle.Hash, error)
}

// btreeDegree is low enough to keep node comparisons cheap and high
// enough to keep the tree shallow for the node counts a level budget
// realistically produces.
const btreeDegree = 32

type item struct {
	id   compact.NodeID
	hash merkle.Hash
}

func (a item) Less(than btree.Item) bool {
	b := than.(item)
	if a.id.J != b.id.J {
		return a.id.J < b.id.J
	}
	return a.id.I < b.id.I
}

// Cache is a bounded, read-only-between-rebuilds map from node address
// to hash.
type Cache struct {
	tree   *btree.BTree
	budget int
}

// New returns an empty cache with room for roughly 2^level nodes.
func New(level int) *Cache {
	budget := 1
	if level > 0 {
		budget = 1 << uint(level)
	}
	return &Cache{tree: btree.New(btreeDegree), budget: budget}
}

// Get returns the cached hash for id, if resident.
func (c *Cache) Get(id compact.NodeID) (merkle.Hash, bool) {
	found := c.tree.Get(item{id: id})
	if found == nil {
		return merkle.Hash{}, false
	}
	return found.(item).hash, true
}

// Len reports how many nodes are currently resident.
func (c *Cache) Len() int {
	return c.tree.Len()
}

// Reset drops every resident node. The next lookup falls through to
// storage until Prefill is called again.
func (c *Cache) Reset() {
	c.tree.Clear(false)
}

// Prefill populates the cache by breadth-first traversal from root,
// stopping once inserting the next pair of children would exceed the
// budget. The top of the tree is the hottest under a skewed access
// pattern, so this ordering gives the best hit rate for the memory it
// spends.
func (c *Cache) Prefill(ctx context.Context, reader NodeReader, root compact.NodeID) error {
	c.Reset()
	queue := []compact.NodeID{root}
	for len(queue) > 0 && c.tree.Len() < c.budget {
		id := queue[0]
		queue = queue[1:]
		if _, ok := c.Get(id); ok {
			continue
		}
		h, err := reader.GetNode(ctx, id)
		if err != nil {
			return err
		}
		c.tree.ReplaceOrInsert(item{id: id, hash: h})
		if id.J == 0 {
			continue
		}
		if c.tree.Len()+2 > c.budget {
			glog.V(4).Infof("cache: stopping prefill at %v, budget %d exhausted", id, c.budget)
			break
		}
		queue = append(queue, id.Left(), id.Right())
	}
	return nil
}

// Invalidate drops every cached node whose covered leaf range no longer
// reflects the forest at the given new size; in practice this is every
// node on or above the append's trailing spine, so the simplest correct
// policy — and the one used here — is to drop the whole cache and rely
// on the next query to fall through to storage until Prefill runs again.
func (c *Cache) Invalidate(newSize uint64) {
	_ = newSize
	c.Reset()
}
