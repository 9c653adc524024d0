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

	"github.com/torao/slate-benchmark/merkle"
)

// Snapshot is an immutable (n, storage-handle) pair: a cheap value
// object that pins a log's size so reads against it observe a fixed
// view even while appends continue concurrently.
type Snapshot struct {
	log *Log
	n   uint64
}

// Snapshot captures the log's current size.
func (l *Log) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{log: l, n: l.n}
}

// N returns the size this snapshot was taken at.
func (s Snapshot) N() uint64 {
	return s.n
}

// Root returns the root hash of this snapshot.
func (s Snapshot) Root(ctx context.Context) (merkle.Hash, error) {
	return s.log.Root(ctx, s.n)
}

// Get returns the user payload for leaf k as it stood at this
// snapshot. Entries are immutable once written, so this is identical
// to reading k from the live log as long as k is within range.
func (s Snapshot) Get(ctx context.Context, k uint64) ([]byte, bool, error) {
	if k == 0 || k > s.n {
		return nil, false, nil
	}
	return s.log.Get(ctx, k)
}

// GetAuthPath returns the authentication path for leaf k against this
// snapshot's fixed size, regardless of how far the live log has grown
// since the snapshot was taken.
func (s Snapshot) GetAuthPath(ctx context.Context, k uint64) (AuthPath, error) {
	s.log.mu.RLock()
	defer s.log.mu.RUnlock()
	return s.log.authPathAtLocked(ctx, k, s.n)
}
