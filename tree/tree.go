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
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/storage"
	"github.com/torao/slate-benchmark/storage/record"
)

// ErrInvariant mirrors log.ErrInvariant for this package: state the
// tree believes a correct implementation cannot produce.
var ErrInvariant = errors.New("tree: invariant violation")

const metaPayloadWidth = 1 + 8 // height (1B) + root position (8B)

func metaBlockSize() int { return record.Size(metaPayloadWidth) }
func nodeBlockSize() int { return record.Size(payloadWidth) }

// Tree is a perfect binary Merkle tree of fixed height over a block
// device, laid out level-major so every node's file position is a
// function of its serial number alone.
type Tree struct {
	dev    storage.BlockDevice
	height uint8

	mu    sync.RWMutex
	cache *cache
}

func (t *Tree) position(s serial) int64 {
	return int64(metaBlockSize()) + int64(s)*int64(nodeBlockSize())
}

// LeafCount returns the number of leaves, 2^(height-1).
func (t *Tree) LeafCount() uint64 {
	return uint64(1) << (t.height - 1)
}

// Build constructs a new tree of the given height over dev, calling
// leafData once per leaf (1-based) to obtain its payload. Hashes are
// computed bottom-up — every interior hash needs both children's
// hashes first — but records are written top-down, root first, since
// this layout's positions are computed from serial numbers rather than
// handed back by the device on write.
func Build(ctx context.Context, dev storage.BlockDevice, height uint8, leafData func(k uint64) ([]byte, error)) (*Tree, error) {
	if height == 0 {
		return nil, fmt.Errorf("tree: height must be >= 1")
	}
	leafCount := uint64(1) << (height - 1)

	leaves := make([][]byte, leafCount)
	levelHashes := make([]merkle.Hash, leafCount)
	for p := uint64(0); p < leafCount; p++ {
		data, err := leafData(p + 1)
		if err != nil {
			return nil, fmt.Errorf("tree: building leaf %d: %w", p+1, err)
		}
		if len(data) > MaxLeafSize {
			return nil, fmt.Errorf("tree: leaf %d payload exceeds MaxLeafSize (%d > %d)", p+1, len(data), MaxLeafSize)
		}
		leaves[p] = data
		levelHashes[p] = merkle.Leaf(data)
	}

	allLevels := make([][]merkle.Hash, height)
	allLevels[height-1] = levelHashes
	for l := int(height) - 2; l >= 0; l-- {
		combined, err := combineLevel(ctx, allLevels[l+1])
		if err != nil {
			return nil, err
		}
		allLevels[l] = combined
	}

	t := &Tree{dev: dev, height: height, cache: newCache(0)}

	metaPayload := make([]byte, metaPayloadWidth)
	metaPayload[0] = byte(height)
	binary.LittleEndian.PutUint64(metaPayload[1:], uint64(t.position(0)))
	if err := dev.Write(ctx, 0, record.Encode(metaPayload, 0)); err != nil {
		return nil, fmt.Errorf("tree: writing metadata: %w", err)
	}

	for l := 0; l < int(height); l++ {
		width := uint64(1) << uint(l)
		for p := uint64(0); p < width; p++ {
			s := levelPositionToSerial(uint8(l), p)
			lo, hi := s.leafRange(height)
			n := node{Hash: allLevels[l][p], Lo: lo, Hi: hi}
			if l == int(height)-1 {
				n.isLeaf = true
				n.Data = leaves[p]
			} else {
				n.LeftPos = t.position(s.left())
				n.RightPos = t.position(s.right())
			}
			buf := record.Encode(encodeNode(n), 0)
			if err := dev.Write(ctx, t.position(s), buf); err != nil {
				return nil, fmt.Errorf("tree: writing node %d: %w", s, err)
			}
		}
	}
	return t, nil
}

// combineLevel hashes each sibling pair of a child level in parallel,
// returning the parent level's hashes in position order.
func combineLevel(ctx context.Context, children []merkle.Hash) ([]merkle.Hash, error) {
	width := len(children) / 2
	out := make([]merkle.Hash, width)
	g, _ := errgroup.WithContext(ctx)
	const chunk = 256
	for start := 0; start < width; start += chunk {
		start := start
		end := start + chunk
		if end > width {
			end = width
		}
		g.Go(func() error {
			for p := start; p < end; p++ {
				out[p] = merkle.Combine(children[2*p], children[2*p+1])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Open reopens a tree previously written by Build.
func Open(ctx context.Context, dev storage.BlockDevice) (*Tree, error) {
	length, err := dev.Len(ctx)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 8)
	if err := dev.ReadExact(ctx, 0, header); err != nil {
		return nil, err
	}
	payloadLen, err := record.DecodeLength(header)
	if err != nil {
		return nil, err
	}
	size := record.Size(payloadLen)
	if int64(size) > length {
		return nil, fmt.Errorf("%w: metadata record truncated", record.ErrCorrupt)
	}
	buf := make([]byte, size)
	if err := dev.ReadExact(ctx, 0, buf); err != nil {
		return nil, err
	}
	rec, err := record.Decode(buf)
	if err != nil {
		return nil, err
	}
	if len(rec.Payload) != metaPayloadWidth {
		return nil, fmt.Errorf("%w: unexpected metadata width %d", record.ErrCorrupt, len(rec.Payload))
	}
	height := rec.Payload[0]
	return &Tree{dev: dev, height: height, cache: newCache(0)}, nil
}

// CacheLevel sets the cache budget so that roughly 2^level nodes near
// the root stay resident, discarding and rebuilding the cache.
func (t *Tree) CacheLevel(ctx context.Context, level int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = newCache(level)
	return t.cache.prefill(ctx, (*treeNodeReader)(t), 0, t.height)
}

type treeNodeReader Tree

func (r *treeNodeReader) hashAt(ctx context.Context, s serial) (merkle.Hash, error) {
	n, err := (*Tree)(r).readNodeLocked(ctx, s)
	if err != nil {
		return merkle.Hash{}, err
	}
	return n.Hash, nil
}

// readNodeLocked reads and decodes the full record of the node at
// serial s from the device; it does not consult the cache. t.mu must be
// held.
func (t *Tree) readNodeLocked(ctx context.Context, s serial) (node, error) {
	header := make([]byte, 8)
	pos := t.position(s)
	if err := t.dev.ReadExact(ctx, pos, header); err != nil {
		return node{}, err
	}
	payloadLen, err := record.DecodeLength(header)
	if err != nil {
		return node{}, err
	}
	size := record.Size(payloadLen)
	buf := make([]byte, size)
	if err := t.dev.ReadExact(ctx, pos, buf); err != nil {
		return node{}, err
	}
	rec, err := record.Decode(buf)
	if err != nil {
		return node{}, err
	}
	return decodeNode(rec.Payload)
}

// Root returns the tree's root hash.
func (t *Tree) Root(ctx context.Context) (merkle.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.cache.get(0); ok {
		return h, nil
	}
	n, err := t.readNodeLocked(ctx, 0)
	if err != nil {
		return merkle.Hash{}, err
	}
	return n.Hash, nil
}

// Get returns leaf k's payload, 1 <= k <= LeafCount(). It descends
// from the root following each node's stored child positions, cross
// checking at every node it reads that the stored position agrees with
// the position the level/pos arithmetic predicts for the same child.
// Interior nodes resident in the warm cache are crossed without any
// device read: the descent direction is pure arithmetic, so a cached
// node contributes nothing a read would.
func (t *Tree) Get(ctx context.Context, k uint64) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if k == 0 || k > t.LeafCount() {
		return nil, false, nil
	}
	s := serial(0)
	for {
		if level, _ := s.levelPosition(); level+1 < t.height {
			if _, ok := t.cache.get(s); ok {
				s = s.descend(t.height, k)
				continue
			}
		}
		n, err := t.readNodeLocked(ctx, s)
		if err != nil {
			return nil, false, err
		}
		if n.isLeaf {
			return n.Data, true, nil
		}
		next := s.descend(t.height, k)
		var storedPos int64
		if next == s.left() {
			storedPos = n.LeftPos
		} else {
			storedPos = n.RightPos
		}
		if storedPos != t.position(next) {
			return nil, false, fmt.Errorf("%w: node %d's stored child position disagrees with level arithmetic", ErrInvariant, s)
		}
		s = next
	}
}
