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

// Package entry defines the persistent unit written by one log append:
// the leaf hash and interior hashes it introduces, each tagged with its
// logical address, plus the user payload itself.
package entry

import (
	"encoding/binary"
	"fmt"

	"github.com/torao/slate-benchmark/merkle"
)

// Interior is one interior node introduced by an append, tagged with
// its logical level and the storage positions of its two children.
type Interior struct {
	Level    uint8
	Hash     merkle.Hash
	LeftPos  int64
	RightPos int64
}

// Entry is the payload of one storage block: the index it was appended
// at, the user's raw bytes, the leaf hash over them, and the interior
// nodes this append completed (ascending level, per
// compact.InodesIntroduced).
type Entry struct {
	Index    uint64
	Data     []byte
	LeafHash merkle.Hash
	Interior []Interior
}

// New builds the Entry for appending data as the i-th leaf. It does not
// compute Interior; the caller fills that in once it knows the child
// positions (see log.Log.Append).
func New(i uint64, data []byte) Entry {
	return Entry{Index: i, Data: data, LeafHash: merkle.Leaf(data)}
}

const interiorWidth = 1 + merkle.Size + 8 + 8

// Size returns the number of bytes Encode will produce for e.
func (e Entry) Size() int {
	return 8 + merkle.Size + 4 + len(e.Data) + len(e.Interior)*interiorWidth
}

// Encode serializes e: index (8B), leaf hash (32B), user-data length
// (4B), user bytes, then for each interior node: level (1B), hash
// (32B), left position (8B), right position (8B). All integers are
// little-endian.
func (e Entry) Encode() []byte {
	buf := make([]byte, e.Size())
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], e.Index)
	off += 8
	copy(buf[off:], e.LeafHash[:])
	off += merkle.Size
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Data)))
	off += 4
	copy(buf[off:], e.Data)
	off += len(e.Data)
	for _, in := range e.Interior {
		buf[off] = in.Level
		off++
		copy(buf[off:], in.Hash[:])
		off += merkle.Size
		binary.LittleEndian.PutUint64(buf[off:], uint64(in.LeftPos))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], uint64(in.RightPos))
		off += 8
	}
	return buf
}

// Decode parses an Entry from bytes produced by Encode.
func Decode(buf []byte) (Entry, error) {
	const fixed = 8 + merkle.Size + 4
	if len(buf) < fixed {
		return Entry{}, fmt.Errorf("entry: payload too short (%d bytes)", len(buf))
	}
	var e Entry
	off := 0
	e.Index = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	copy(e.LeafHash[:], buf[off:off+merkle.Size])
	off += merkle.Size
	dataLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+dataLen > len(buf) {
		return Entry{}, fmt.Errorf("entry: truncated user data (want %d bytes)", dataLen)
	}
	e.Data = make([]byte, dataLen)
	copy(e.Data, buf[off:off+dataLen])
	off += dataLen

	for off < len(buf) {
		if off+interiorWidth > len(buf) {
			return Entry{}, fmt.Errorf("entry: truncated interior node at offset %d", off)
		}
		var in Interior
		in.Level = buf[off]
		off++
		copy(in.Hash[:], buf[off:off+merkle.Size])
		off += merkle.Size
		in.LeftPos = int64(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		in.RightPos = int64(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		e.Interior = append(e.Interior, in)
	}
	return e, nil
}
