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

// Package record implements the self-describing, append-only block
// format shared by the log and the perfect binary tree: a fixed magic
// header, a length-prefixed payload, a back-pointer to the preceding
// record for reverse traversal, and a checksum for crash recovery.
package record

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Magic identifies this module's record format. It is the first four
// bytes of every record.
var Magic = [4]byte{'s', 'l', 't', '1'}

const (
	magicLen  = 4
	lengthLen = 4
	backLen   = 8
	crcLen    = 4
	// headerAndTrailerLen is every fixed-width field besides the payload.
	headerAndTrailerLen = magicLen + lengthLen + backLen + crcLen
)

// ErrCorrupt is returned when a record is shorter than its fields
// require or its checksum does not match its bytes. A bad magic field
// is reported as ErrBadMagic instead.
var ErrCorrupt = errors.New("record: corrupt record")

// ErrBadMagic is returned when a record's magic field does not match
// Magic.
var ErrBadMagic = errors.New("record: bad magic")

// Record is one framed block: a payload plus the back-pointer to the
// record preceding it. Position is set once the record has been read
// from, or written to, storage.
type Record struct {
	Payload  []byte
	Back     int64
	Position int64
}

// Size returns the total number of bytes Encode will produce for a
// payload of length payloadLen.
func Size(payloadLen int) int {
	return headerAndTrailerLen + payloadLen
}

// Encode frames payload with back as its back-pointer, returning the
// full record bytes ready to hand to a block device.
func Encode(payload []byte, back int64) []byte {
	buf := make([]byte, Size(len(payload)))
	copy(buf[0:magicLen], Magic[:])
	binary.LittleEndian.PutUint32(buf[magicLen:magicLen+lengthLen], uint32(len(payload)))
	copy(buf[magicLen+lengthLen:], payload)
	backOff := magicLen + lengthLen + len(payload)
	binary.LittleEndian.PutUint64(buf[backOff:backOff+backLen], uint64(back))
	crcOff := backOff + backLen
	crc := crc32.ChecksumIEEE(buf[:crcOff])
	binary.LittleEndian.PutUint32(buf[crcOff:crcOff+crcLen], crc)
	return buf
}

// DecodeLength reads the payload length out of a record's first 8
// bytes (magic + length), without validating the checksum. Callers use
// it to know how many more bytes to read before calling Decode.
func DecodeLength(header []byte) (payloadLen int, err error) {
	if len(header) < magicLen+lengthLen {
		return 0, ErrCorrupt
	}
	if [4]byte(header[:magicLen]) != Magic {
		return 0, ErrBadMagic
	}
	return int(binary.LittleEndian.Uint32(header[magicLen : magicLen+lengthLen])), nil
}

// Decode validates and parses a full record's bytes (as produced by
// Encode) into a Record whose Position is left at its zero value; the
// caller sets Position once Decode succeeds.
func Decode(buf []byte) (Record, error) {
	if len(buf) < headerAndTrailerLen {
		return Record{}, ErrCorrupt
	}
	if [4]byte(buf[:magicLen]) != Magic {
		return Record{}, ErrBadMagic
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[magicLen : magicLen+lengthLen]))
	want := Size(payloadLen)
	if len(buf) != want {
		return Record{}, ErrCorrupt
	}
	crcOff := want - crcLen
	gotCRC := binary.LittleEndian.Uint32(buf[crcOff:])
	wantCRC := crc32.ChecksumIEEE(buf[:crcOff])
	if gotCRC != wantCRC {
		return Record{}, ErrCorrupt
	}
	backOff := crcOff - backLen
	back := int64(binary.LittleEndian.Uint64(buf[backOff:crcOff]))
	payload := make([]byte, payloadLen)
	copy(payload, buf[magicLen+lengthLen:magicLen+lengthLen+payloadLen])
	return Record{Payload: payload, Back: back}, nil
}
