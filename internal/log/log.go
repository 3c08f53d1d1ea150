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

// Package log implements the append-only, single-file record log that
// backs a conftree store: a fixed identifier line, a fixed-width decimal
// root-pointer line, and a sequence of tab-prefixed, newline-terminated
// records whose byte offset is their permanent identity.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"k8s.io/klog/v2"
)

// Identifier is the fixed 36-byte tag written as the first line of every
// storage file. It doubles as a format version: a Log refuses to operate on
// a file whose first line doesn't match exactly.
const Identifier = "3dbf4cbc-f015-43d9-b280-ff6962a22198"

// DefaultHeaderWidth is the number of decimal digits used for a freshly
// created root pointer. Up to 10^15-1, comfortably north of 900 TiB of records.
const DefaultHeaderWidth = 15

// MaxHeaderWidth is the largest root-pointer width this package accepts
// when reading back an existing file.
const MaxHeaderWidth = 15

const identifierLineLen = len(Identifier) + 1 // + "\n"

// Log is a handle onto one storage file (or in-memory equivalent). A Log is
// not safe for concurrent use by multiple goroutines without external
// synchronization beyond what its own file locking provides — exactly like
// the single *os.File handle it wraps: open a separate handle (via Open or
// Attach) per goroutine or process that needs independent locking.
type Log struct {
	b        backend
	locked   bool
	lockable bool
}

// Create truncates (or creates) filename and initializes it as an empty
// storage: identifier line, then a root pointer of 0.
func Create(filename string) error {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("log: create %s: %w", filename, err)
	}
	defer f.Close()
	b := newOSBackend(f)
	return initBackend(b)
}

func initBackend(b backend) error {
	if err := b.Truncate(0); err != nil {
		return fmt.Errorf("log: truncate: %w", err)
	}
	header := fmt.Sprintf("%s\n%0*d\n", Identifier, DefaultHeaderWidth, 0)
	if _, err := b.WriteAt([]byte(header), 0); err != nil {
		return fmt.Errorf("log: write header: %w", err)
	}
	return b.Sync()
}

// Open opens filename as a storage. If createIfMissing is true and the file
// doesn't exist, it's created empty first. If resetIfExists is true, any
// existing file at filename is discarded and replaced with an empty
// storage (combine with createIfMissing to unconditionally start fresh,
// which is handy in tests).
func Open(filename string, createIfMissing, resetIfExists bool) (*Log, error) {
	if resetIfExists {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("log: remove %s: %w", filename, err)
		}
		if err := Create(filename); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(filename); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("log: stat %s: %w", filename, err)
		}
		if createIfMissing {
			if err := Create(filename); err != nil {
				return nil, err
			}
		}
	}
	f, err := os.OpenFile(filename, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log: open %s: %w", filename, err)
	}
	return &Log{b: newOSBackend(f), lockable: true}, nil
}

// OpenInMemory returns a Log over a fresh, empty in-memory backend. Useful
// for tests that don't need to exercise file locking.
func OpenInMemory() *Log {
	b := &memBackend{}
	if err := initBackend(b); err != nil {
		// memBackend never fails to truncate/write/sync.
		panic(err)
	}
	return &Log{b: b, lockable: false}
}

// Attach opens a second (or subsequent) Log handle onto an already
// initialized Backend. This is how tests simulate two independent processes
// racing to commit against the same storage: construct one Backend with
// NewMemBackend, Attach a Log per simulated writer, and each Log tracks its
// own lock state independently while sharing the underlying bytes.
func Attach(b Backend) *Log {
	return &Log{b: b, lockable: b.Lockable()}
}

func (l *Log) lock(write bool) error {
	if l.locked {
		panic(errNestedLockMsg)
	}
	if l.lockable {
		if err := l.b.Flock(write); err != nil {
			return fmt.Errorf("log: flock: %w", err)
		}
	}
	l.locked = true
	return nil
}

func (l *Log) unlock() {
	if l.lockable {
		if err := l.b.Funlock(); err != nil {
			klog.Errorf("log: funlock failed: %v", err)
		}
	}
	l.locked = false
}

// readLine reads one '\n'-terminated line starting at pos, growing the read
// in 4096-byte chunks the way the original line reader does. It returns the
// line (including the trailing '\n') and the offset just past it.
func readLine(b backend, pos int64) (line []byte, next int64, err error) {
	const chunkSize = 4096
	var buf []byte
	off := pos
	for {
		chunk := make([]byte, chunkSize)
		n, rerr := b.ReadAt(chunk, off)
		if n > 0 {
			if idx := bytes.IndexByte(chunk[:n], '\n'); idx != -1 {
				buf = append(buf, chunk[:idx+1]...)
				return buf, off + int64(idx+1), nil
			}
			buf = append(buf, chunk[:n]...)
			off += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				if len(buf) == 0 {
					return nil, off, io.EOF
				}
				return nil, off, ErrUnterminatedRecord
			}
			return nil, off, rerr
		}
	}
}

func parseCurrentOffset(line []byte) (int64, error) {
	if len(line) == 0 {
		return 0, fmt.Errorf("log: empty root pointer: %w", ErrCorruptedFormat)
	}
	if len(line) < 2 || len(line) > MaxHeaderWidth+1 || line[len(line)-1] != '\n' {
		return 0, fmt.Errorf("log: invalid header %q: %w", line, ErrCorruptedFormat)
	}
	digits := line[:len(line)-1]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("log: invalid header %q: %w", line, ErrCorruptedFormat)
		}
	}
	var v int64
	for _, c := range digits {
		v = v*10 + int64(c-'0')
	}
	return v, nil
}

func (l *Log) readIdentifier() (lineLen int64, err error) {
	line, next, err := readLine(l.b, 0)
	if err != nil {
		if err == io.EOF {
			return 0, fmt.Errorf("log: empty storage: %w", ErrCorruptedFormat)
		}
		return 0, err
	}
	if string(line[:len(line)-1]) != Identifier {
		return 0, fmt.Errorf("log: unrecognized identifier %q: %w", line, ErrCorruptedFormat)
	}
	return next, nil
}

// GetCurrent returns the root pointer currently stored in the header.
func (l *Log) GetCurrent() (int64, error) {
	if err := l.lock(false); err != nil {
		return 0, err
	}
	defer l.unlock()

	idEnd, err := l.readIdentifier()
	if err != nil {
		return 0, err
	}
	line, _, err := readLine(l.b, idEnd)
	if err != nil {
		return 0, fmt.Errorf("log: reading root pointer: %w", err)
	}
	return parseCurrentOffset(line)
}

// SetCurrent writes offset as the new root pointer. If lease is non-nil,
// the write only happens if the current root pointer equals *lease —
// otherwise ErrConcurrency is returned and nothing is written. Pass a nil
// lease to force an unconditional write.
func (l *Log) SetCurrent(offset int64, lease *int64) error {
	if err := l.lock(true); err != nil {
		return err
	}
	defer l.unlock()

	idEnd, err := l.readIdentifier()
	if err != nil {
		return err
	}
	line, _, err := readLine(l.b, idEnd)
	if err != nil {
		return fmt.Errorf("log: reading root pointer: %w", err)
	}
	current, err := parseCurrentOffset(line)
	if err != nil {
		return err
	}
	if lease != nil && current != *lease {
		return fmt.Errorf("log: target=%d, current=%d, expected=%d: %w", offset, current, *lease, ErrConcurrency)
	}
	width := len(line) - 1
	newLine := fmt.Sprintf("%0*d\n", width, offset)
	if len(newLine) != len(line) {
		return fmt.Errorf("log: root pointer width changed (%q vs %q): %w", newLine, line, ErrCorruptedFormat)
	}
	if _, err := l.b.WriteAt([]byte(newLine), idEnd); err != nil {
		return fmt.Errorf("log: writing root pointer: %w", err)
	}
	return l.b.Sync()
}

// Load reads back the record stored at offset (as previously returned by
// Store), stripping its framing.
func (l *Log) Load(offset int64) ([]byte, error) {
	line, _, err := readLine(l.b, offset)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("log: no record at offset %d: %w", offset, ErrCorruptedFormat)
		}
		return nil, err
	}
	if len(line) == 0 || line[0] != '\t' {
		return nil, fmt.Errorf("log: missing marker at offset %d: %w", offset, ErrCorruptedFormat)
	}
	if line[len(line)-1] != '\n' {
		return nil, fmt.Errorf("log: unterminated line at offset %d: %w", offset, ErrCorruptedFormat)
	}
	if bytes.IndexByte(line[1:len(line)-1], '\t') != -1 {
		return nil, fmt.Errorf("log: offset %d is not the start of a record: %w", offset, ErrCorruptedFormat)
	}
	return line[1 : len(line)-1], nil
}

// Store appends record to the end of the log and returns its offset. record
// must not contain a tab or newline byte — callers are expected to have
// already run it through a canonical encoder (see internal/store) that
// guarantees this; a violation here is a caller bug, not a runtime
// condition, hence the panic rather than an error return.
func (l *Log) Store(record []byte) (int64, error) {
	if bytes.IndexByte(record, '\t') != -1 {
		panic("log: record contains a forbidden TAB byte")
	}
	if bytes.IndexByte(record, '\n') != -1 {
		panic("log: record contains a forbidden NL byte")
	}
	if err := l.lock(true); err != nil {
		return 0, err
	}
	defer l.unlock()

	size, err := l.b.Size()
	if err != nil {
		return 0, fmt.Errorf("log: stat: %w", err)
	}
	if size < 2 {
		return 0, fmt.Errorf("log: empty storage: %w", ErrCorruptedFormat)
	}
	framed := make([]byte, 0, len(record)+2)
	framed = append(framed, '\t')
	framed = append(framed, record...)
	framed = append(framed, '\n')
	if _, err := l.b.WriteAt(framed, size); err != nil {
		return 0, fmt.Errorf("log: append: %w", err)
	}
	klog.V(2).Infof("log: stored %d bytes at offset %d", len(record), size)
	return size, nil
}

// Scan walks the whole file, checking every line's framing, without
// returning any data. It reports the first CorruptedFormat-class problem it
// finds, or nil if the file is well formed end to end.
func (l *Log) Scan() error {
	if err := l.lock(true); err != nil {
		return err
	}
	defer l.unlock()

	idEnd, err := l.readIdentifier()
	if err != nil {
		return err
	}
	line, next, err := readLine(l.b, idEnd)
	if err != nil {
		return fmt.Errorf("log: reading root pointer: %w", err)
	}
	if _, err := parseCurrentOffset(line); err != nil {
		return err
	}
	pos := next
	for {
		line, next, err := readLine(l.b, pos)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("log: at offset %d: %w", pos, err)
		}
		if line[0] != '\t' {
			return fmt.Errorf("log: missing marker at offset %d: %w", pos, ErrCorruptedFormat)
		}
		if bytes.IndexByte(line[1:len(line)-1], '\t') != -1 {
			return fmt.Errorf("log: marker found within a record at offset %d: %w", pos, ErrCorruptedFormat)
		}
		pos = next
	}
}

// Record pairs a record's offset with its raw (unframed) bytes, as yielded
// by Records.
type Record struct {
	Offset int64
	Data   []byte
}

// Records returns every record in the file in order, starting with the
// identifier line and the root-pointer line (both surfaced as pseudo-
// records with only their trailing newline stripped; they carry no tab
// marker), followed by each stored record with its framing stripped.
func (l *Log) Records() ([]Record, error) {
	if err := l.lock(true); err != nil {
		return nil, err
	}
	defer l.unlock()

	var out []Record

	idLine, idNext, err := readLine(l.b, 0)
	if err != nil {
		return nil, fmt.Errorf("log: reading identifier: %w", err)
	}
	if string(idLine[:len(idLine)-1]) != Identifier {
		return nil, fmt.Errorf("log: identifier not found: %w", ErrCorruptedFormat)
	}
	out = append(out, Record{Offset: 0, Data: idLine[:len(idLine)-1]})

	rootLine, pos, err := readLine(l.b, idNext)
	if err != nil {
		return nil, fmt.Errorf("log: reading root pointer: %w", err)
	}
	out = append(out, Record{Offset: idNext, Data: rootLine[:len(rootLine)-1]})

	for {
		line, next, err := readLine(l.b, pos)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("log: at offset %d: %w", pos, err)
		}
		if line[0] != '\t' {
			return nil, fmt.Errorf("log: missing marker at offset %d: %w", pos, ErrCorruptedFormat)
		}
		if bytes.IndexByte(line[1:len(line)-1], '\t') != -1 {
			return nil, fmt.Errorf("log: marker found within a record at offset %d: %w", pos, ErrCorruptedFormat)
		}
		out = append(out, Record{Offset: pos, Data: line[1 : len(line)-1]})
		pos = next
	}
}

// Close releases the underlying file, if any (in-memory logs have nothing
// to close).
func (l *Log) Close() error {
	if c, ok := l.b.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
