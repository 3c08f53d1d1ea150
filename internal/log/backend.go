// Copyright 2024 The conftree Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"io"
	"os"
	"sync"
	"syscall"
)

// backend is the narrow file-like surface Log needs. It's satisfied by an
// *os.File for real storage, and by memBackend for in-memory (testing) use.
//
// Positions are always absolute: every operation takes an explicit offset
// rather than relying on a shared cursor, so concurrent goroutines sharing a
// single Log never race on file position the way the original's seek-then-
// read/write sequence would.
type backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Lockable() bool
	Flock(write bool) error
	Funlock() error
}

// osBackend adapts *os.File to backend, taking an advisory flock on the
// first byte of the file (offset 0, length 1) for Flock/Funlock.
//
// Grounded on storage/posix/files.go's lockFile: a raw syscall.Flock_t via
// syscall.FcntlFlock, retried across EINTR.
type osBackend struct {
	f *os.File
}

func newOSBackend(f *os.File) *osBackend {
	return &osBackend{f: f}
}

func (b *osBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *osBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *osBackend) Truncate(size int64) error                { return b.f.Truncate(size) }
func (b *osBackend) Sync() error                               { return b.f.Sync() }
func (b *osBackend) Lockable() bool                            { return true }

func (b *osBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (b *osBackend) flockWith(lockType int16) error {
	flockT := syscall.Flock_t{
		Type:   lockType,
		Whence: io.SeekStart,
		Start:  0,
		Len:    1,
	}
	for {
		if err := syscall.FcntlFlock(b.f.Fd(), syscall.F_SETLKW, &flockT); err != syscall.EINTR {
			return err
		}
	}
}

func (b *osBackend) Flock(write bool) error {
	t := int16(syscall.F_RDLCK)
	if write {
		t = syscall.F_WRLCK
	}
	return b.flockWith(t)
}

func (b *osBackend) Funlock() error {
	return b.flockWith(syscall.F_UNLCK)
}

func (b *osBackend) Close() error {
	return b.f.Close()
}

// memBackend is an in-memory backend for testing, analogous to the Python
// source's use of io.BytesIO. Locking is a no-op (Lockable reports false),
// but it's still a real shared buffer so multiple Log handles can be
// attached to it to exercise CAS conflicts within a single process.
type memBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemBackend returns a fresh in-memory backend initialized as an empty
// storage (identifier line and a zero root pointer). Use Attach to open one
// or more Log handles against it.
func NewMemBackend() Backend {
	b := &memBackend{}
	if err := initBackend(b); err != nil {
		// memBackend never fails to truncate/write/sync.
		panic(err)
	}
	return b
}

func (b *memBackend) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memBackend) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], p)
	return len(p), nil
}

func (b *memBackend) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data)), nil
}

func (b *memBackend) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size <= int64(len(b.data)) {
		b.data = b.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	}
	return nil
}

func (b *memBackend) Sync() error          { return nil }
func (b *memBackend) Lockable() bool       { return false }
func (b *memBackend) Flock(write bool) error { return nil }
func (b *memBackend) Funlock() error         { return nil }

// Backend is the exported form of backend, so callers outside this package
// (tests, mainly) can share one in-memory file across several Log handles to
// exercise the CAS-conflict scenarios in spec.md §8.
type Backend = backend
