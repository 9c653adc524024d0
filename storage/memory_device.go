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

package storage

import (
	"context"
	"sync"
)

// MemoryDevice is a BlockDevice backed by a growable in-memory buffer.
// It is meant for tests and short-lived logs; nothing is persisted.
type MemoryDevice struct {
	mu  sync.RWMutex
	buf []byte
}

// NewMemoryDevice returns an empty in-memory device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{}
}

func (d *MemoryDevice) ReadExact(_ context.Context, at int64, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if at < 0 || at+int64(len(p)) > int64(len(d.buf)) {
		return ErrOutOfRange
	}
	copy(p, d.buf[at:at+int64(len(p))])
	return nil
}

func (d *MemoryDevice) Write(_ context.Context, at int64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := at + int64(len(p))
	if end > int64(len(d.buf)) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	copy(d.buf[at:end], p)
	return nil
}

func (d *MemoryDevice) Append(_ context.Context, p []byte) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := int64(len(d.buf))
	d.buf = append(d.buf, p...)
	return at, nil
}

func (d *MemoryDevice) Len(_ context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.buf)), nil
}

func (d *MemoryDevice) Truncate(_ context.Context, length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if length < 0 || length > int64(len(d.buf)) {
		return ErrOutOfRange
	}
	d.buf = d.buf[:length]
	return nil
}

func (d *MemoryDevice) Sync(_ context.Context) error {
	return nil
}

func (d *MemoryDevice) Close() error {
	return nil
}
