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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torao/slate-benchmark/internal/mixer"
	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/merkle/compact"
	"github.com/torao/slate-benchmark/storage"
)

func newTestLog(t *testing.T) (*Log, storage.BlockDevice) {
	t.Helper()
	dev := storage.NewMemoryDevice()
	l, err := Create(context.Background(), dev)
	require.NoError(t, err)
	return l, dev
}

func TestTinyLog(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	for _, b := range [][]byte{{0x01}, {0x02}, {0x03}} {
		_, err := l.Append(ctx, b)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), l.N())

	data, ok, err := l.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x02}, data)

	_, ok, err = l.Get(ctx, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, compact.AccessDistance(1, 3))
	assert.Equal(t, 1, compact.AccessDistance(3, 3))
}

// TestLeftCompleteLog cross-checks the root of a power-of-two log
// against an independent recursive reference implementation.
func TestLeftCompleteLog(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	var leaves []merkle.Hash
	for i := uint64(1); i <= 8; i++ {
		payload := mixer.Payload(i)
		_, err := l.Append(ctx, payload)
		require.NoError(t, err)
		leaves = append(leaves, merkle.Leaf(payload))
	}

	for k := uint64(1); k <= 8; k++ {
		data, ok, err := l.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mixer.Payload(k), data)

		path, err := l.GetAuthPath(ctx, k)
		require.NoError(t, err)
		assert.Len(t, path.Siblings, 3)
		assert.True(t, path.Verify())
	}

	var reference func(lo, hi uint64) merkle.Hash
	reference = func(lo, hi uint64) merkle.Hash {
		if lo == hi {
			return leaves[lo-1]
		}
		mid := lo + (hi-lo+1)/2 - 1
		return merkle.Combine(reference(lo, mid), reference(mid+1, hi))
	}
	want := reference(1, 8)
	got, err := l.Root(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestNonPowerOfTwoLog checks the forest decomposition and path length
// for a 13-entry log, where the forest has three roots.
func TestNonPowerOfTwoLog(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	for i := uint64(1); i <= 13; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	roots := compact.ForestRoots(13)
	require.Len(t, roots, 3)
	assert.Equal(t, compact.NodeID{I: 8, J: 3}, roots[0])
	assert.Equal(t, compact.NodeID{I: 12, J: 2}, roots[1])
	assert.Equal(t, compact.NodeID{I: 13, J: 0}, roots[2])

	path, err := l.GetAuthPath(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, path.Siblings, compact.AccessDistance(10, 13))
	assert.True(t, path.Verify())

	data, ok, err := l.Get(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mixer.Payload(10), data)
}

// TestCrashRecovery corrupts the tail record's last bytes and checks
// that a recovery-mode reopen drops exactly the damaged entry.
func TestCrashRecovery(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()
	l, err := Create(ctx, dev)
	require.NoError(t, err)

	var n uint64
	for i := uint64(1); i <= 5; i++ {
		n, err = l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), n)

	length, err := dev.Len(ctx)
	require.NoError(t, err)
	require.NoError(t, dev.Truncate(ctx, length-3))

	recovered, err := Open(ctx, dev, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), recovered.N())

	for k := uint64(1); k <= 4; k++ {
		data, ok, err := recovered.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mixer.Payload(k), data)
	}
}

func TestRoundTripAcrossManyAppends(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	const count = 200
	for i := uint64(1); i <= count; i++ {
		got, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
		require.Equal(t, i, got)
	}

	for k := uint64(1); k <= count; k++ {
		data, ok, err := l.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mixer.Payload(k), data)
	}
}

func TestReopenRebuildsPositions(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()
	l, err := Create(ctx, dev)
	require.NoError(t, err)
	for i := uint64(1); i <= 17; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	reopened, err := Open(ctx, dev, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), reopened.N())

	rootBefore, err := l.Root(ctx, 17)
	require.NoError(t, err)
	rootAfter, err := reopened.Root(ctx, 17)
	require.NoError(t, err)
	assert.Equal(t, rootBefore, rootAfter)
}

// failingDevice wraps a BlockDevice and fails every Append once armed.
type failingDevice struct {
	storage.BlockDevice
	fail bool
}

func (d *failingDevice) Append(ctx context.Context, p []byte) (int64, error) {
	if d.fail {
		return 0, assert.AnError
	}
	return d.BlockDevice.Append(ctx, p)
}

// TestAppendNeverAdvancesNOnFailure checks the atomicity guarantee: a
// failed append leaves n, and every previously appended entry, intact.
func TestAppendNeverAdvancesNOnFailure(t *testing.T) {
	ctx := context.Background()
	dev := &failingDevice{BlockDevice: storage.NewMemoryDevice()}
	l, err := Create(ctx, dev)
	require.NoError(t, err)

	for i := uint64(1); i <= 6; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	dev.fail = true
	_, err = l.Append(ctx, mixer.Payload(7))
	require.Error(t, err)
	assert.Equal(t, uint64(6), l.N())

	dev.fail = false
	i, err := l.Append(ctx, mixer.Payload(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), i)

	for k := uint64(1); k <= 7; k++ {
		data, ok, err := l.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mixer.Payload(k), data)
	}
}

func TestCacheConsistencyAcrossLevels(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	for i := uint64(1); i <= 50; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	baseline, ok, err := l.Get(ctx, 33)
	require.NoError(t, err)
	require.True(t, ok)

	for _, level := range []int{0, 1, 2, 4} {
		require.NoError(t, l.CacheLevel(ctx, level))
		data, ok, err := l.Get(ctx, 33)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, baseline, data)
	}
}
