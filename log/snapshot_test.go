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
	"github.com/torao/slate-benchmark/storage"
	"github.com/torao/slate-benchmark/storage/record"
)

// TestSnapshotObservesFixedSize checks that a snapshot pins the size it
// was taken at: reads against it ignore later appends, and its root and
// authentication paths stay byte-identical.
func TestSnapshotObservesFixedSize(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	for i := uint64(1); i <= 10; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	snap := l.Snapshot()
	require.Equal(t, uint64(10), snap.N())

	rootBefore, err := snap.Root(ctx)
	require.NoError(t, err)
	pathBefore, err := snap.GetAuthPath(ctx, 7)
	require.NoError(t, err)

	for i := uint64(11); i <= 25; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	rootAfter, err := snap.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, rootBefore, rootAfter)

	pathAfter, err := snap.GetAuthPath(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, pathBefore, pathAfter)
	assert.True(t, pathAfter.Verify())

	// An index the live log holds but the snapshot does not.
	_, ok, err := snap.Get(ctx, 15)
	require.NoError(t, err)
	assert.False(t, ok)

	data, ok, err := snap.Get(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mixer.Payload(3), data)
}

// TestSnapshotGetIsIdempotent repeats the same read many times across
// intervening appends; every repetition must return the same bytes.
func TestSnapshotGetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	for i := uint64(1); i <= 5; i++ {
		_, err := l.Append(ctx, mixer.Payload(i))
		require.NoError(t, err)
	}

	snap := l.Snapshot()
	first, ok, err := snap.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	for round := 0; round < 3; round++ {
		_, err := l.Append(ctx, mixer.Payload(uint64(100+round)))
		require.NoError(t, err)
		got, ok, err := snap.Get(ctx, 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, got)
	}
}

// TestOpenRejectsForeignSchema checks that a device whose first record
// is not this module's metadata payload fails to open.
func TestOpenRejectsForeignSchema(t *testing.T) {
	ctx := context.Background()
	dev := storage.NewMemoryDevice()
	s, err := record.OpenStrict(ctx, dev)
	require.NoError(t, err)
	_, err = s.Put(ctx, []byte("some-other-format"))
	require.NoError(t, err)

	_, err = Open(ctx, dev, false)
	assert.Error(t, err)
}
