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

// Package mixer generates deterministic pseudo-random payloads for
// tests and benchmarks via a SplitMix64 bit-mixer, so expected values
// at every index are reproducible without storing them.
package mixer

import "encoding/binary"

// SplitMix64 produces the bit-mixer's output for seed x. It is a pure
// function, not a stateful generator: callers that want a sequence
// call it with successive seeds (typically the index being hashed).
func SplitMix64(x uint64) uint64 {
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Payload returns the little-endian byte encoding of SplitMix64(i),
// the deterministic test payload for leaf index i.
func Payload(i uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, SplitMix64(i))
	return buf
}
