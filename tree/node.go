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

// Package tree implements the perfect binary Merkle tree: a fixed-size
// variant of the append-only log, laid out level-by-level over the
// same block-storage substrate so that reads near the root touch the
// same pages regardless of which leaf is being fetched.
package tree

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/torao/slate-benchmark/merkle"
)

// MaxLeafSize bounds a leaf's user payload so every node record — leaf
// or interior — serializes to the same fixed width, which is what lets
// a node's file position be computed from its serial index alone
// instead of threaded through as a return value.
const MaxLeafSize = 1024

// kind tags which union member a node record carries.
type kind uint8

const (
	kindLeaf kind = iota
	kindInterior
)

// node is one record of the tree: its hash, the inclusive leaf range
// [Lo, Hi] it covers, and either its user data (a leaf) or its two
// children's positions (interior).
type node struct {
	Hash     merkle.Hash
	Lo, Hi   uint64
	Data     []byte // leaf only
	LeftPos  int64  // interior only
	RightPos int64  // interior only
	isLeaf   bool
}

// unionWidth is the fixed width of the leaf/interior union: the wider
// of "4-byte length + MaxLeafSize data" and "two 8-byte positions",
// padded with zero bytes when the shorter variant is written.
const unionWidth = 4 + MaxLeafSize

// payloadWidth is the fixed size of every node record's payload:
// kind (1B) + hash (32B) + range (8B+8B) + union.
const payloadWidth = 1 + merkle.Size + 8 + 8 + unionWidth

func encodeNode(n node) []byte {
	buf := make([]byte, payloadWidth)
	off := 0
	if n.isLeaf {
		buf[off] = byte(kindLeaf)
	} else {
		buf[off] = byte(kindInterior)
	}
	off++
	copy(buf[off:], n.Hash[:])
	off += merkle.Size
	binary.LittleEndian.PutUint64(buf[off:], n.Lo)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], n.Hi)
	off += 8
	if n.isLeaf {
		if len(n.Data) > MaxLeafSize {
			panic(fmt.Sprintf("tree: leaf payload exceeds MaxLeafSize (%d > %d)", len(n.Data), MaxLeafSize))
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(n.Data)))
		copy(buf[off+4:], n.Data)
	} else {
		binary.LittleEndian.PutUint64(buf[off:], uint64(n.LeftPos))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(n.RightPos))
	}
	return buf
}

func decodeNode(buf []byte) (node, error) {
	if len(buf) != payloadWidth {
		return node{}, fmt.Errorf("tree: node payload has wrong width (%d, want %d)", len(buf), payloadWidth)
	}
	var n node
	off := 0
	k := kind(buf[off])
	off++
	copy(n.Hash[:], buf[off:off+merkle.Size])
	off += merkle.Size
	n.Lo = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	n.Hi = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	switch k {
	case kindLeaf:
		n.isLeaf = true
		dataLen := int(binary.LittleEndian.Uint32(buf[off:]))
		if dataLen > MaxLeafSize {
			return node{}, fmt.Errorf("tree: stored leaf length %d exceeds MaxLeafSize", dataLen)
		}
		n.Data = make([]byte, dataLen)
		copy(n.Data, buf[off+4:off+4+dataLen])
	case kindInterior:
		n.LeftPos = int64(binary.LittleEndian.Uint64(buf[off:]))
		n.RightPos = int64(binary.LittleEndian.Uint64(buf[off+8:]))
	default:
		return node{}, fmt.Errorf("tree: unknown node kind %d", k)
	}
	return n, nil
}

// serial numbers nodes root-first, level by level, left to right —
// the classic binary-heap array numbering: root is 0, its children are
// 1 and 2, and in general level l starts at 2^l - 1.
type serial uint64

// levelPosition returns the 0-based level and 0-based position within
// that level for s: an alternate, pointer-free way to locate a node,
// used to cross-check the position-pointer layout actually stored.
func (s serial) levelPosition() (level uint8, pos uint64) {
	n := uint64(s) + 1
	level = uint8(bits.Len64(n)) - 1
	pos = n - (uint64(1) << level)
	return level, pos
}

func levelPositionToSerial(level uint8, pos uint64) serial {
	return serial((uint64(1) << level) - 1 + pos)
}

func (s serial) left() serial  { return serial(2*uint64(s) + 1) }
func (s serial) right() serial { return serial(2*uint64(s) + 2) }

// leafRange returns the inclusive 1-based leaf range covered by the
// node at s within a tree of the given height (h levels, root at level
// 0, leaves at level h-1, 2^(h-1) leaves total).
func (s serial) leafRange(height uint8) (lo, hi uint64) {
	level, pos := s.levelPosition()
	size := uint64(1) << (uint64(height) - 1 - uint64(level))
	lo = pos*size + 1
	hi = lo + size - 1
	return lo, hi
}

// descend returns the child of s (within a tree of the given height)
// whose range contains leaf k, computing the half-boundary
// arithmetically rather than reading either child from disk. It only
// decides direction and reads nothing itself.
func (s serial) descend(height uint8, k uint64) serial {
	lo, hi := s.leafRange(height)
	mid := lo + (hi-lo+1)/2 - 1
	if k <= mid {
		return s.left()
	}
	return s.right()
}
