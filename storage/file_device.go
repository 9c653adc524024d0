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

//go:build unix

package storage

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FileDevice is a BlockDevice backed by a local file, using positioned
// pread/pwrite so concurrent readers never race over a shared cursor the
// way Seek+Read/Write on one *os.File would.
type FileDevice struct {
	f      *os.File
	fd     int
	mu     sync.RWMutex
	length int64
}

// OpenFileDevice opens (creating if necessary) the file at path as a
// BlockDevice.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, fd: int(f.Fd()), length: info.Size()}, nil
}

func (d *FileDevice) ReadExact(_ context.Context, at int64, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if at < 0 || at+int64(len(p)) > d.length {
		return ErrOutOfRange
	}
	n, err := unix.Pread(d.fd, p, at)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrOutOfRange
	}
	return nil
}

func (d *FileDevice) Write(_ context.Context, at int64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pwrite(d.fd, p, at)
	if err != nil {
		return err
	}
	if end := at + int64(n); end > d.length {
		d.length = end
	}
	return nil
}

func (d *FileDevice) Append(_ context.Context, p []byte) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := d.length
	n, err := unix.Pwrite(d.fd, p, at)
	if err != nil {
		return 0, err
	}
	d.length = at + int64(n)
	return at, nil
}

func (d *FileDevice) Truncate(_ context.Context, length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Truncate(length); err != nil {
		return err
	}
	d.length = length
	return nil
}

func (d *FileDevice) Len(_ context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.length, nil
}

func (d *FileDevice) Sync(_ context.Context) error {
	return d.f.Sync()
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}
