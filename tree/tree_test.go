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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torao/slate-benchmark/internal/mixer"
	"github.com/torao/slate-benchmark/merkle"
	"github.com/torao/slate-benchmark/storage"
	"github.com/torao/slate-benchmark/storage/record"
)

// TestPerfectTreeRoundTrip builds a height-8 tree (128 leaves) with
// splitmix64 values and reads every leaf back.
func TestPerfectTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()

	const height = 8
	leafCount := uint64(1) << (height - 1)
	require.Equal(t, uint64(128), leafCount)

	tr, err := Build(ctx, dev, height, func(k uint64) ([]byte, error) {
		return mixer.Payload(k), nil
	})
	require.NoError(t, err)
	assert.Equal(t, leafCount, tr.LeafCount())

	for k := uint64(1); k <= leafCount; k++ {
		data, ok, err := tr.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mixer.Payload(k), data)
	}

	_, ok, err := tr.Get(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = tr.Get(ctx, leafCount+1)
	require.NoError(t, err)
	assert.False(t, ok)

	root, err := tr.Root(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, merkle.Hash{}, root)
}

// TestPerfectTreeLevelMajorLayout reads raw blocks by their computed
// position and checks that serial numbering visits the root first,
// then each level left to right.
func TestPerfectTreeLevelMajorLayout(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()

	const height = 4 // 8 leaves, small enough to assert on directly
	tr, err := Build(ctx, dev, height, func(k uint64) ([]byte, error) {
		return mixer.Payload(k), nil
	})
	require.NoError(t, err)

	readAt := func(s serial) node {
		header := make([]byte, 8)
		pos := tr.position(s)
		require.NoError(t, dev.ReadExact(ctx, pos, header))
		payloadLen, err := record.DecodeLength(header)
		require.NoError(t, err)
		buf := make([]byte, record.Size(payloadLen))
		require.NoError(t, dev.ReadExact(ctx, pos, buf))
		rec, err := record.Decode(buf)
		require.NoError(t, err)
		n, err := decodeNode(rec.Payload)
		require.NoError(t, err)
		return n
	}

	root := readAt(0)
	assert.Equal(t, uint64(1), root.Lo)
	assert.Equal(t, uint64(8), root.Hi)
	assert.False(t, root.isLeaf)

	left := readAt(serial(1))
	assert.Equal(t, uint64(1), left.Lo)
	assert.Equal(t, uint64(4), left.Hi)

	right := readAt(serial(2))
	assert.Equal(t, uint64(5), right.Lo)
	assert.Equal(t, uint64(8), right.Hi)

	firstLeafSerial := levelPositionToSerial(height-1, 0)
	firstLeaf := readAt(firstLeafSerial)
	assert.True(t, firstLeaf.isLeaf)
	assert.Equal(t, uint64(1), firstLeaf.Lo)
	assert.Equal(t, mixer.Payload(1), firstLeaf.Data)
}

func TestPerfectTreeCacheLevelWarmsTopNodes(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()

	const height = 5
	tr, err := Build(ctx, dev, height, func(k uint64) ([]byte, error) {
		return mixer.Payload(k), nil
	})
	require.NoError(t, err)

	require.NoError(t, tr.CacheLevel(ctx, 2))
	assert.LessOrEqual(t, tr.cache.len(), 4)

	root, err := tr.Root(ctx)
	require.NoError(t, err)
	h, ok := tr.cache.get(0)
	require.True(t, ok)
	assert.Equal(t, root, h)
}

// TestGetAgreesAcrossCacheLevels reads every leaf with the cache cold
// and again with the top levels warm; the payloads must be identical.
func TestGetAgreesAcrossCacheLevels(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()

	const height = 6
	tr, err := Build(ctx, dev, height, func(k uint64) ([]byte, error) {
		return mixer.Payload(k), nil
	})
	require.NoError(t, err)

	cold := make(map[uint64][]byte)
	for k := uint64(1); k <= tr.LeafCount(); k++ {
		data, ok, err := tr.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		cold[k] = data
	}

	require.NoError(t, tr.CacheLevel(ctx, 3))
	for k := uint64(1); k <= tr.LeafCount(); k++ {
		data, ok, err := tr.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, cold[k], data, "k=%d", k)
	}
}

func TestOpenReopensBuiltTree(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()

	const height = 3
	_, err := Build(ctx, dev, height, func(k uint64) ([]byte, error) {
		return mixer.Payload(k), nil
	})
	require.NoError(t, err)

	tr, err := Open(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, uint8(height), tr.height)

	data, ok, err := tr.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mixer.Payload(1), data)
}
