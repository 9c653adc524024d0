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

// Package log implements the append-only, content-addressed Merkle log:
// append, random access by index, authentication paths, and the
// divergence-prove protocol between two logs.
package log

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/torao/slate-benchmark/entry"
	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/merkle/compact"
	"github.com/torao/slate-benchmark/storage"
	"github.com/torao/slate-benchmark/storage/cache"
	"github.com/torao/slate-benchmark/storage/record"
)

// metadataPayload identifies this module's schema in the first record of
// a fresh log. The perfect-tree variant uses its own metadata shape; see
// tree.Tree.
var metadataPayload = []byte("slate-log-v1")

// ErrInvariant is returned when the log detects state it believes is
// impossible for a correct implementation to produce (a mismatched
// child address, an impossible level). The operation aborts leaving
// state untouched; this is treated as a bug, not a normal error path.
var ErrInvariant = errors.New("log: invariant violation")

// Log owns a block storage, maintains the materialized tail needed to
// serve appends and queries, and answers reads against any snapshot.
type Log struct {
	storage *record.Storage

	mu        sync.RWMutex
	n         uint64
	positions []int64 // positions[i-1] is the storage position of entry i

	cache      *cache.Cache
	cacheLevel int
}

// Create initializes a brand-new log over dev, writing its metadata
// record.
func Create(ctx context.Context, dev storage.BlockDevice) (*Log, error) {
	s, err := record.OpenStrict(ctx, dev)
	if err != nil {
		return nil, err
	}
	if _, ok := s.LastPosition(); ok {
		return nil, fmt.Errorf("log: device is not empty")
	}
	if _, err := s.Put(ctx, metadataPayload); err != nil {
		return nil, err
	}
	return &Log{storage: s, cache: cache.New(0)}, nil
}

// Open reopens an existing log. In strict mode a corrupt tail record is
// a fatal error; in recovery mode the storage is truncated to its last
// valid record and the log's in-memory tail is rebuilt from what
// remains.
func Open(ctx context.Context, dev storage.BlockDevice, recovery bool) (*Log, error) {
	var s *record.Storage
	var err error
	if recovery {
		s, _, err = record.OpenRecovery(ctx, dev)
	} else {
		s, err = record.OpenStrict(ctx, dev)
	}
	if err != nil {
		return nil, err
	}
	l := &Log{storage: s, cache: cache.New(0)}
	if err := l.replay(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// replay walks every record from the start to rebuild the position
// index and entry count. The first record must be this module's
// metadata record; any other payload means the device holds a
// different (or newer) schema and the open fails.
func (l *Log) replay(ctx context.Context) error {
	first := true
	return l.storage.ForEach(ctx, func(rec record.Record) error {
		if first {
			first = false
			if !bytes.Equal(rec.Payload, metadataPayload) {
				return fmt.Errorf("log: unsupported schema %q", rec.Payload)
			}
			return nil
		}
		e, err := entry.Decode(rec.Payload)
		if err != nil {
			return fmt.Errorf("log: replaying entry at position %d: %w", rec.Position, err)
		}
		if e.Index != l.n+1 {
			return fmt.Errorf("%w: entry index %d out of sequence after %d", ErrInvariant, e.Index, l.n)
		}
		l.positions = append(l.positions, rec.Position)
		l.n = e.Index
		return nil
	})
}

// N returns the current size of the log.
func (l *Log) N() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.n
}

// CacheLevel sets the cache budget so that roughly 2^level nodes near
// the root stay resident. Changing it discards and rebuilds the cache.
func (l *Log) CacheLevel(ctx context.Context, level int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cacheLevel = level
	l.cache = cache.New(level)
	if l.n == 0 {
		return nil
	}
	root, ok := compact.SnapshotRoot(l.n)
	if !ok {
		// n is not a single forest root; prefill from the leftmost
		// (largest) forest root, which covers the majority of leaves and
		// so dominates the hot path under a skewed access pattern.
		roots := compact.ForestRoots(l.n)
		root = roots[0]
	}
	return l.cache.Prefill(ctx, (*nodeReader)(l), root)
}

// nodeReader adapts *Log to cache.NodeReader for use while l.mu is
// already held: its GetNode goes straight to getNodeLocked, whereas
// Log.GetNode takes the read lock, which CacheLevel already holds for
// writing.
type nodeReader Log

func (r *nodeReader) GetNode(ctx context.Context, id compact.NodeID) (merkle.Hash, error) {
	return (*Log)(r).getNodeLocked(ctx, id)
}

// Append hashes data to a leaf, determines the interior nodes this
// append introduces, persists the entry, and advances n. A failed
// append never advances n.
func (l *Log) Append(ctx context.Context, data []byte) (uint64, error) {
	ctx, span := startSpan(ctx, "Append")
	defer span.End()
	start := time.Now()
	defer func() { appendSeconds.Observe(time.Since(start).Seconds()) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.n + 1
	e := entry.New(i, data)

	// The record's own position must be known before it is encoded: every
	// interior node this append introduces has its right child living in
	// this same record (the leaf, or an interior node introduced earlier
	// in this loop), so RightPos is this record's own position, not a
	// value Put can hand back afterward.
	pos, err := l.storage.NextPosition(ctx)
	if err != nil {
		return 0, fmt.Errorf("log: append %d: %w", i, err)
	}

	for _, id := range compact.InodesIntroduced(i) {
		leftHash, leftPos, err := l.nodeAndPositionLocked(ctx, id.Left())
		if err != nil {
			return 0, fmt.Errorf("log: append %d: reading left child %v: %w", i, id.Left(), err)
		}
		var rightHash merkle.Hash
		if id.J == 1 {
			rightHash = e.LeafHash
		} else {
			rightHash = e.Interior[len(e.Interior)-1].Hash
		}
		e.Interior = append(e.Interior, entry.Interior{
			Level:    id.J,
			Hash:     merkle.Combine(leftHash, rightHash),
			LeftPos:  leftPos,
			RightPos: pos,
		})
	}

	actual, err := l.storage.Put(ctx, e.Encode())
	if err != nil {
		return 0, fmt.Errorf("log: append %d: %w", i, err)
	}
	if actual != pos {
		return 0, fmt.Errorf("%w: predicted append position %d, storage used %d", ErrInvariant, pos, actual)
	}

	l.positions = append(l.positions, pos)
	l.n = i
	l.cache.Invalidate(l.n)
	appendTotal.Inc()
	glog.V(4).Infof("log: appended entry %d at position %d", i, pos)
	return i, nil
}

// nodeAndPositionLocked returns both the hash and the storage position
// of the entry record that introduced id. It is only ever called with a
// left child, which always resolves to an entry already on disk (the
// append in progress can only introduce right children of the nodes it
// builds). l.mu must be held.
func (l *Log) nodeAndPositionLocked(ctx context.Context, id compact.NodeID) (merkle.Hash, int64, error) {
	h, err := l.getNodeLocked(ctx, id)
	if err != nil {
		return merkle.Hash{}, 0, err
	}
	if id.I == 0 || id.I > uint64(len(l.positions)) {
		return merkle.Hash{}, 0, fmt.Errorf("%w: no entry for index %d", ErrInvariant, id.I)
	}
	return h, l.positions[id.I-1], nil
}

// getNodeLocked resolves the hash of id from the entry that introduced
// it. l.mu must be held for reading.
func (l *Log) getNodeLocked(ctx context.Context, id compact.NodeID) (merkle.Hash, error) {
	if h, ok := l.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return h, nil
	}
	cacheMissesTotal.Inc()
	if id.I == 0 || id.I > uint64(len(l.positions)) {
		return merkle.Hash{}, fmt.Errorf("%w: node %v has no entry", ErrInvariant, id)
	}
	rec, err := l.storage.ReadAt(ctx, l.positions[id.I-1])
	if err != nil {
		return merkle.Hash{}, err
	}
	e, err := entry.Decode(rec.Payload)
	if err != nil {
		return merkle.Hash{}, err
	}
	if id.J == 0 {
		return e.LeafHash, nil
	}
	for _, in := range e.Interior {
		if in.Level == id.J {
			return in.Hash, nil
		}
	}
	return merkle.Hash{}, fmt.Errorf("%w: entry %d has no interior node at level %d", ErrInvariant, id.I, id.J)
}

// GetNode resolves the hash of an arbitrary node address, falling
// through the cache to storage. It implements cache.NodeReader.
func (l *Log) GetNode(ctx context.Context, id compact.NodeID) (merkle.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getNodeLocked(ctx, id)
}

// hashRangeLocked computes the hash covering the inclusive leaf range
// [lo, hi], short-circuiting through a real stored node whenever the
// range is forest-aligned, and otherwise folding the two halves
// produced by the largest-power-of-two split. l.mu must be held for
// reading.
func (l *Log) hashRangeLocked(ctx context.Context, lo, hi uint64) (merkle.Hash, error) {
	size := hi - lo + 1
	if size == 1 {
		return l.getNodeLocked(ctx, compact.NodeID{I: hi, J: 0})
	}
	j := compact.CeilLog2(size)
	if size == uint64(1)<<j && hi%size == 0 {
		// size is a power of two and hi falls on a boundary of that size:
		// j <= ctz(hi), so append hi introduced this real, materialized node,
		// not a fold spanning more than one forest root.
		return l.getNodeLocked(ctx, compact.NodeID{I: hi, J: j})
	}
	half := compact.LargestPow2LessThan(size)
	mid := lo + half - 1
	left, err := l.hashRangeLocked(ctx, lo, mid)
	if err != nil {
		return merkle.Hash{}, err
	}
	right, err := l.hashRangeLocked(ctx, mid+1, hi)
	if err != nil {
		return merkle.Hash{}, err
	}
	return merkle.Combine(left, right), nil
}

// Root returns the root hash of the snapshot of the first n leaves.
func (l *Log) Root(ctx context.Context, n uint64) (merkle.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n == 0 {
		return merkle.Empty(), nil
	}
	return l.hashRangeLocked(ctx, 1, n)
}

// Get returns the user payload for leaf k, or ok == false if
// k == 0 || k > n.
func (l *Log) Get(ctx context.Context, k uint64) (data []byte, ok bool, err error) {
	ctx, span := startSpan(ctx, "Get")
	defer span.End()
	start := time.Now()
	defer func() { getSeconds.Observe(time.Since(start).Seconds()) }()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if k == 0 || k > l.n {
		return nil, false, nil
	}
	rec, err := l.storage.ReadAt(ctx, l.positions[k-1])
	if err != nil {
		return nil, false, err
	}
	e, err := entry.Decode(rec.Payload)
	if err != nil {
		return nil, false, err
	}
	return e.Data, true, nil
}
