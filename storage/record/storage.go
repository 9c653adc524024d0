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

package record

import (
	"context"
	"fmt"
	"sync"

	"github.com/torao/slate-benchmark/storage"
)

// Storage is the record-framing layer over a raw BlockDevice: it writes
// and reads whole records (magic, length, payload, back-pointer,
// checksum) and knows the position of the first and last record.
type Storage struct {
	dev storage.BlockDevice

	mu       sync.RWMutex
	hasTail  bool
	firstPos int64
	lastPos  int64
}

// OpenStrict scans dev from its start, validating every record, and
// refuses to open if the tail record is corrupt or truncated.
func OpenStrict(ctx context.Context, dev storage.BlockDevice) (*Storage, error) {
	s := &Storage{dev: dev}
	firstPos, lastPos, hasTail, corruptAt, err := scan(ctx, dev)
	if err != nil {
		return nil, err
	}
	if corruptAt >= 0 {
		return nil, fmt.Errorf("%w: at position %d", ErrCorrupt, corruptAt)
	}
	s.firstPos, s.lastPos, s.hasTail = firstPos, lastPos, hasTail
	return s, nil
}

// OpenRecovery scans dev like OpenStrict, but instead of failing on a
// corrupt or partially written tail record, truncates the device to the
// last valid record and opens that. It reports whether it had to
// truncate.
func OpenRecovery(ctx context.Context, dev storage.BlockDevice) (s *Storage, truncated bool, err error) {
	s = &Storage{dev: dev}
	firstPos, lastPos, hasTail, corruptAt, err := scan(ctx, dev)
	if err != nil {
		return nil, false, err
	}
	if corruptAt >= 0 {
		if err := dev.Truncate(ctx, corruptAt); err != nil {
			return nil, false, err
		}
		truncated = true
	}
	s.firstPos, s.lastPos, s.hasTail = firstPos, lastPos, hasTail
	return s, truncated, nil
}

// scan walks every record from position 0, validating each. It returns
// the first and last valid record positions (meaningful only if
// hasTail), and, if a record failed to decode, the position at which
// the device should be truncated to discard it (-1 if every record up
// to the device's end was valid).
func scan(ctx context.Context, dev storage.BlockDevice) (firstPos, lastPos int64, hasTail bool, corruptAt int64, err error) {
	length, err := dev.Len(ctx)
	if err != nil {
		return 0, 0, false, -1, err
	}
	var pos int64
	corruptAt = -1
	for pos < length {
		header := make([]byte, 8)
		if err := dev.ReadExact(ctx, pos, header); err != nil {
			corruptAt = pos
			break
		}
		payloadLen, err := DecodeLength(header)
		if err != nil {
			corruptAt = pos
			break
		}
		total := int64(Size(payloadLen))
		if pos+total > length {
			corruptAt = pos
			break
		}
		buf := make([]byte, total)
		if err := dev.ReadExact(ctx, pos, buf); err != nil {
			corruptAt = pos
			break
		}
		if _, err := Decode(buf); err != nil {
			corruptAt = pos
			break
		}
		if !hasTail {
			firstPos = pos
		}
		lastPos = pos
		hasTail = true
		pos += total
	}
	return firstPos, lastPos, hasTail, corruptAt, nil
}

// ForEach walks every valid record from first to last, in append
// order, calling fn with each. It stops and returns fn's error if fn
// returns one.
func (s *Storage) ForEach(ctx context.Context, fn func(Record) error) error {
	s.mu.RLock()
	hasTail := s.hasTail
	s.mu.RUnlock()
	if !hasTail {
		return nil
	}
	length, err := s.dev.Len(ctx)
	if err != nil {
		return err
	}
	var pos int64
	for pos < length {
		rec, err := s.ReadAt(ctx, pos)
		if err != nil {
			return err
		}
		rec.Position = pos
		if err := fn(rec); err != nil {
			return err
		}
		pos += int64(Size(len(rec.Payload)))
	}
	return nil
}

// NextPosition returns the position the next call to Put will write its
// record at. Callers that must embed a record's own position inside its
// payload (entry interior nodes back-pointing to themselves) compute it
// here before encoding, since Put only returns the position after the
// payload is already fixed.
func (s *Storage) NextPosition(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dev.Len(ctx)
}

// Put appends payload as a new record whose back-pointer is the
// position of the preceding record (0 if this is the first record ever
// written), and returns the new record's position.
func (s *Storage) Put(ctx context.Context, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var back int64
	if s.hasTail {
		back = s.lastPos
	}
	buf := Encode(payload, back)
	pos, err := s.dev.Append(ctx, buf)
	if err != nil {
		return 0, err
	}
	if !s.hasTail {
		s.firstPos = pos
	}
	s.lastPos = pos
	s.hasTail = true
	return pos, nil
}

// ReadAt reads and validates the record at the given position.
func (s *Storage) ReadAt(ctx context.Context, pos int64) (Record, error) {
	header := make([]byte, 8)
	if err := s.dev.ReadExact(ctx, pos, header); err != nil {
		return Record{}, err
	}
	payloadLen, err := DecodeLength(header)
	if err != nil {
		return Record{}, err
	}
	buf := make([]byte, Size(payloadLen))
	if err := s.dev.ReadExact(ctx, pos, buf); err != nil {
		return Record{}, err
	}
	rec, err := Decode(buf)
	if err != nil {
		return Record{}, err
	}
	rec.Position = pos
	return rec, nil
}

// First returns the earliest valid record (typically the metadata
// record). It reports false, with a nil error, if the storage is empty.
func (s *Storage) First(ctx context.Context) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasTail {
		return Record{}, false, nil
	}
	rec, err := s.ReadAt(ctx, s.firstPos)
	return rec, true, err
}

// Last returns the most recently written record.
func (s *Storage) Last(ctx context.Context) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasTail {
		return Record{}, false, nil
	}
	rec, err := s.ReadAt(ctx, s.lastPos)
	return rec, true, err
}

// LastPosition returns the position of the most recently written
// record, and whether any record has been written yet.
func (s *Storage) LastPosition() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPos, s.hasTail
}

// Reader walks records backward from the tail via back-pointers,
// visiting every record exactly once in reverse append order.
type Reader struct {
	ctx context.Context
	s   *Storage
	pos int64
	done bool
}

// Reader returns a fresh backward-walking Reader starting at the tail.
func (s *Storage) Reader(ctx context.Context) (*Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasTail {
		return &Reader{ctx: ctx, s: s, done: true}, nil
	}
	return &Reader{ctx: ctx, s: s, pos: s.lastPos}, nil
}

// Next returns the next record walking backward, and false once every
// record has been visited.
func (r *Reader) Next() (Record, bool, error) {
	if r.done {
		return Record{}, false, nil
	}
	rec, err := r.s.ReadAt(r.ctx, r.pos)
	if err != nil {
		return Record{}, false, err
	}
	if rec.Position == r.s.firstPosUnlocked() {
		r.done = true
	} else {
		r.pos = rec.Back
	}
	return rec, true, nil
}

func (s *Storage) firstPosUnlocked() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstPos
}
