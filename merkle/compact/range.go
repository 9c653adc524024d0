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

package compact

import "math/bits"

// InodesIntroduced returns the interior nodes created by appending the
// i-th entry (1-based), in ascending level order: one node per trailing
// zero bit of i, (i, 1) .. (i, ctz(i)).
func InodesIntroduced(i uint64) []NodeID {
	if i == 0 {
		return nil
	}
	ctz := TrailingZeros64(i)
	out := make([]NodeID, 0, ctz)
	for j := 1; j <= ctz; j++ {
		out = append(out, NodeID{I: i, J: uint8(j)})
	}
	return out
}

// ForestRoots returns the roots of the maximal full subtrees that
// partition the first n leaves, ordered left to right. Their count is
// popcount(n); each corresponds to one set bit of n, highest first.
func ForestRoots(n uint64) []NodeID {
	if n == 0 {
		return nil
	}
	roots := make([]NodeID, 0, PopCount64(n))
	var consumed uint64
	for b := bits.Len64(n) - 1; b >= 0; b-- {
		if n&(uint64(1)<<uint(b)) == 0 {
			continue
		}
		consumed += uint64(1) << uint(b)
		roots = append(roots, NodeID{I: consumed, J: uint8(b)})
	}
	return roots
}

// SnapshotRoot returns the NodeID standing for the root of a snapshot of
// n leaves if, and only if, n is itself a power of two (a single forest
// root). For any other n the root is a fold of multiple forest roots and
// has no single address; callers must compute it via combine instead.
func SnapshotRoot(n uint64) (NodeID, bool) {
	roots := ForestRoots(n)
	if len(roots) != 1 {
		return NodeID{}, false
	}
	return roots[0], true
}

// authPath computes the authentication path from leaf k (1-based) to the
// root of the range [lo, hi], in leaf-to-root order. It recurses by
// always splitting off the largest aligned power-of-two prefix, so every
// sibling it names is either a real forest-aligned node or, when the
// remaining suffix itself still spans more than one forest root, an
// address whose hash is the combine-fold of those roots (see
// nodeIDForRange).
func authPath(k, lo, hi uint64) []Sibling {
	size := hi - lo + 1
	if size == 1 {
		return nil
	}
	half := LargestPow2LessThan(size)
	mid := lo + half - 1
	if k <= mid {
		path := authPath(k, lo, mid)
		return append(path, Sibling{Node: nodeIDForRange(mid+1, hi), Side: Right})
	}
	path := authPath(k, mid+1, hi)
	return append(path, Sibling{Node: nodeIDForRange(lo, mid), Side: Left})
}

// nodeIDForRange addresses the node (real or fold-ephemeral) covering
// the inclusive leaf range [lo, hi]: I is the rightmost leaf (hi), J is
// ceil(log2(size)), which collapses to the familiar level for any
// forest-aligned range and otherwise denotes the height of the combine
// performed to fold several forest roots together.
func nodeIDForRange(lo, hi uint64) NodeID {
	return NodeID{I: hi, J: CeilLog2(hi - lo + 1)}
}

// AuthPath returns the authentication path from leaf k (1-based) to the
// root of a snapshot of n leaves, in leaf-to-root order. It panics if k
// is out of range [1, n].
func AuthPath(k, n uint64) []Sibling {
	if k < 1 || k > n {
		panic("compact: leaf index out of range")
	}
	return authPath(k, 1, n)
}

// AccessDistance returns the number of combine steps on the path from
// leaf k to the snapshot root of n leaves.
func AccessDistance(k, n uint64) int {
	return len(AuthPath(k, n))
}

// AccessDistanceLimits returns the smallest and largest access distance
// across every leaf of a snapshot of n leaves. Every leaf inside the same
// forest root shares one distance, so this only needs to consider the
// popcount(n) forest roots, not every leaf.
func AccessDistanceLimits(n uint64) (lower, upper int) {
	roots := ForestRoots(n)
	p := len(roots)
	if p == 0 {
		return 0, 0
	}
	lower = -1
	for m, root := range roots {
		// m is 0-based here; the closed form below is stated in terms of
		// a 1-based rank, so add one.
		rank := m + 1
		var additional int
		if rank == p {
			additional = p - 1
		} else {
			additional = rank
		}
		d := additional + int(root.J)
		if lower == -1 || d < lower {
			lower = d
		}
		if d > upper {
			upper = d
		}
	}
	return lower, upper
}
