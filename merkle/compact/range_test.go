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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInodesIntroduced(t *testing.T) {
	assert.Empty(t, InodesIntroduced(1))
	assert.Equal(t, []NodeID{{I: 2, J: 1}}, InodesIntroduced(2))
	assert.Equal(t, []NodeID{{I: 4, J: 1}, {I: 4, J: 2}}, InodesIntroduced(4))
	assert.Equal(t, []NodeID{{I: 8, J: 1}, {I: 8, J: 2}, {I: 8, J: 3}}, InodesIntroduced(8))
}

func TestForestRoots(t *testing.T) {
	assert.Equal(t, []NodeID{{I: 8, J: 3}}, ForestRoots(8))
	assert.Equal(t, []NodeID{{I: 2, J: 1}, {I: 3, J: 0}}, ForestRoots(3))
	assert.Equal(t, []NodeID{{I: 8, J: 3}, {I: 12, J: 2}, {I: 13, J: 0}}, ForestRoots(13))
}

func TestAccessDistanceTinyLog(t *testing.T) {
	// For n = 3 the leaf that sits alone as the rightmost forest root is
	// cheapest to reach.
	assert.Equal(t, 2, AccessDistance(1, 3))
	assert.Equal(t, 2, AccessDistance(2, 3))
	assert.Equal(t, 1, AccessDistance(3, 3))
}

func TestAccessDistanceUniformForPowerOfTwo(t *testing.T) {
	// n = 8 is a single forest root, so every leaf sits at the same depth.
	for k := uint64(1); k <= 8; k++ {
		assert.Equal(t, 3, AccessDistance(k, 8))
	}
	lower, upper := AccessDistanceLimits(8)
	assert.Equal(t, 3, lower)
	assert.Equal(t, 3, upper)
}

func TestAccessDistanceLimitsN13(t *testing.T) {
	for k := uint64(1); k <= 13; k++ {
		got := AccessDistance(k, 13)
		lower, upper := AccessDistanceLimits(13)
		assert.GreaterOrEqual(t, got, lower)
		assert.LessOrEqual(t, got, upper)
	}
	lower, upper := AccessDistanceLimits(13)
	assert.Equal(t, 2, lower)
	assert.Equal(t, 4, upper)
}

func TestAuthPathLengthMatchesAccessDistance(t *testing.T) {
	for n := uint64(1); n <= 64; n++ {
		for k := uint64(1); k <= n; k++ {
			assert.Len(t, AuthPath(k, n), AccessDistance(k, n))
		}
	}
}

func TestAuthPathSingleLeaf(t *testing.T) {
	assert.Empty(t, AuthPath(1, 1))
}

func TestInodesIntroducedCountEqualsTrailingZeros(t *testing.T) {
	for i := uint64(1); i <= 1024; i++ {
		assert.Len(t, InodesIntroduced(i), TrailingZeros64(i), "i=%d", i)
	}
}

func TestForestRootsPartitionLeaves(t *testing.T) {
	for n := uint64(1); n <= 512; n++ {
		roots := ForestRoots(n)
		assert.Len(t, roots, PopCount64(n), "n=%d", n)
		next := uint64(1)
		for _, root := range roots {
			lo, hi := root.Range()
			assert.Equal(t, next, lo, "n=%d root=%v", n, root)
			next = hi + 1
		}
		assert.Equal(t, n+1, next, "n=%d", n)
	}
}
