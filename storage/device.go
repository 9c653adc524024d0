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

// Package storage provides the block device abstraction that the log and
// the perfect binary tree are built on, plus implementations backed by
// memory, a local file, and an external key-value store.
package storage

import (
	"context"
	"errors"
)

// ErrOutOfRange is returned when a read addresses bytes beyond the
// device's current length.
var ErrOutOfRange = errors.New("storage: read out of range")

// BlockDevice is the minimal positioned byte-addressable device that
// every storage backend implements. Positions are absolute byte offsets
// from the start of the device; there is no notion of "current cursor".
type BlockDevice interface {
	// ReadExact reads exactly len(p) bytes starting at position at. It
	// returns ErrOutOfRange if at+len(p) exceeds Len().
	ReadExact(ctx context.Context, at int64, p []byte) error

	// Write writes p at the given absolute position. The device grows if
	// at+len(p) exceeds its current length; it is an error to leave a
	// gap (at must not exceed Len()).
	Write(ctx context.Context, at int64, p []byte) error

	// Append writes p immediately after the device's current end and
	// returns the position it was written at.
	Append(ctx context.Context, p []byte) (int64, error)

	// Len returns the device's current length in bytes.
	Len(ctx context.Context) (int64, error)

	// Truncate discards every byte from length onward. It is used by
	// recovery-mode reopen to drop a trailing, partially written or
	// corrupt record.
	Truncate(ctx context.Context, length int64) error

	// Sync flushes any buffered writes to durable storage.
	Sync(ctx context.Context) error

	// Close releases any resources held by the device.
	Close() error
}
