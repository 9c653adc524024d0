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

package log

import (
	"context"
	"fmt"

	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/merkle/compact"
)

// SiblingHash is one step of an authentication path: the address and
// side compact.AuthPath names, together with the hash it carries at
// the snapshot the path was built against.
type SiblingHash struct {
	Node compact.NodeID
	Side compact.Side
	Hash merkle.Hash
}

// AuthPath is a verifiable chain of sibling digests from leaf Index to
// the root of a snapshot of N leaves.
type AuthPath struct {
	Index    uint64
	N        uint64
	LeafHash merkle.Hash
	Siblings []SiblingHash
	Root     merkle.Hash
}

// Verify recomputes the root by folding LeafHash with each sibling in
// order and reports whether it matches Root.
func (p AuthPath) Verify() bool {
	acc := p.LeafHash
	for _, s := range p.Siblings {
		if s.Side == compact.Left {
			acc = merkle.Combine(s.Hash, acc)
		} else {
			acc = merkle.Combine(acc, s.Hash)
		}
	}
	return acc == p.Root
}

// GetAuthPath returns the authentication path for leaf k against the
// log's current size.
func (l *Log) GetAuthPath(ctx context.Context, k uint64) (AuthPath, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.authPathAtLocked(ctx, k, l.n)
}

// authPathAtLocked builds the authentication path for leaf k against a
// snapshot of n leaves, n <= l.n. l.mu must be held for reading.
func (l *Log) authPathAtLocked(ctx context.Context, k, n uint64) (AuthPath, error) {
	if k == 0 || k > n {
		return AuthPath{}, fmt.Errorf("%w: leaf %d out of range [1,%d]", ErrInvariant, k, n)
	}
	leafHash, err := l.getNodeLocked(ctx, compact.NodeID{I: k, J: 0})
	if err != nil {
		return AuthPath{}, err
	}
	siblings, err := l.authPathRangeLocked(ctx, k, 1, n)
	if err != nil {
		return AuthPath{}, err
	}
	root, err := l.hashRangeLocked(ctx, 1, n)
	if err != nil {
		return AuthPath{}, err
	}
	return AuthPath{Index: k, N: n, LeafHash: leafHash, Siblings: siblings, Root: root}, nil
}

// authPathRangeLocked mirrors compact's internal split algorithm, but
// resolves and attaches each sibling's hash as it recurses rather than
// leaving that to a second pass — the range a sibling covers is only
// known at the point of the split, and an "ephemeral" sibling spanning
// more than one forest root has no address compact.NodeID.Range can
// reconstruct on its own. l.mu must be held for reading.
func (l *Log) authPathRangeLocked(ctx context.Context, k, lo, hi uint64) ([]SiblingHash, error) {
	size := hi - lo + 1
	if size == 1 {
		return nil, nil
	}
	half := compact.LargestPow2LessThan(size)
	mid := lo + half - 1
	if k <= mid {
		path, err := l.authPathRangeLocked(ctx, k, lo, mid)
		if err != nil {
			return nil, err
		}
		h, err := l.hashRangeLocked(ctx, mid+1, hi)
		if err != nil {
			return nil, err
		}
		node := compact.NodeID{I: hi, J: compact.CeilLog2(hi - mid)}
		return append(path, SiblingHash{Node: node, Side: compact.Right, Hash: h}), nil
	}
	path, err := l.authPathRangeLocked(ctx, k, mid+1, hi)
	if err != nil {
		return nil, err
	}
	h, err := l.hashRangeLocked(ctx, lo, mid)
	if err != nil {
		return nil, err
	}
	node := compact.NodeID{I: mid, J: compact.CeilLog2(mid - lo + 1)}
	return append(path, SiblingHash{Node: node, Side: compact.Left, Hash: h}), nil
}

// Divergence is one address where two authentication paths disagree.
type Divergence struct {
	Node compact.NodeID
}

// Prove compares p against other, which must cover the same leaf index
// at the same snapshot size. Equal roots mean the two logs agree on
// this leaf; otherwise the paths are walked root-to-leaf in lock-step
// and every level where the sibling hashes differ is reported.
func (p AuthPath) Prove(other AuthPath) (identical bool, divergent []Divergence, err error) {
	if p.Index != other.Index || p.N != other.N {
		return false, nil, fmt.Errorf("log: prove: mismatched path shape (%d,%d) vs (%d,%d)", p.Index, p.N, other.Index, other.N)
	}
	if len(p.Siblings) != len(other.Siblings) {
		return false, nil, fmt.Errorf("%w: prove: sibling count mismatch", ErrInvariant)
	}
	if p.Root == other.Root {
		return true, nil, nil
	}
	// Siblings are stored leaf-to-root; walk root-to-leaf so divergences
	// nearest the root are discovered first.
	for i := len(p.Siblings) - 1; i >= 0; i-- {
		a, b := p.Siblings[i], other.Siblings[i]
		if a.Hash != b.Hash {
			divergent = append(divergent, Divergence{Node: a.Node})
		}
	}
	if p.LeafHash != other.LeafHash {
		divergent = append(divergent, Divergence{Node: compact.NodeID{I: p.Index, J: 0}})
	}
	return false, divergent, nil
}

// Converge runs the two-party divergence-detection procedure between a
// and b, two logs reporting the same size n. Each round it follows the
// divergent node with the smallest level, then the smallest index, and
// it returns the leaf index this reaches, or ok == false if they agree
// on every leaf covered by n. When exactly one leaf differs, that leaf
// is returned; when several differ, the result is the one this order
// reaches first, which is not necessarily the smallest index.
func Converge(ctx context.Context, a, b *Log, n uint64) (k uint64, ok bool, err error) {
	cursor := n
	iterations := 0
	defer func() { divergenceIterations.Observe(float64(iterations)) }()
	for {
		iterations++
		pa, err := a.authPathAt(ctx, cursor, n)
		if err != nil {
			return 0, false, err
		}
		pb, err := b.authPathAt(ctx, cursor, n)
		if err != nil {
			return 0, false, err
		}
		identical, divergent, err := pb.Prove(pa)
		if err != nil {
			return 0, false, err
		}
		if identical {
			return 0, false, nil
		}
		min, found := smallestByLevelThenIndex(divergent)
		if !found {
			return 0, false, fmt.Errorf("%w: prove reported non-identical paths with no divergence", ErrInvariant)
		}
		if min.J == 0 {
			return min.I, true, nil
		}
		cursor = min.I
	}
}

// authPathAt exposes authPathAtLocked to package-level callers (the
// convergence procedure operates on two distinct *Log values, so it
// cannot hold one's lock while calling a method on the other).
func (l *Log) authPathAt(ctx context.Context, k, n uint64) (AuthPath, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.authPathAtLocked(ctx, k, n)
}

// smallestByLevelThenIndex implements the tie-break rule: smallest
// level first (closest to a leaf), then smallest index.
func smallestByLevelThenIndex(ds []Divergence) (compact.NodeID, bool) {
	if len(ds) == 0 {
		return compact.NodeID{}, false
	}
	best := ds[0].Node
	for _, d := range ds[1:] {
		if d.Node.J < best.J || (d.Node.J == best.J && d.Node.I < best.I) {
			best = d.Node
		}
	}
	return best, true
}
