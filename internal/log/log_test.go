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

package log_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	conftreelog "github.com/fjolliton/conftree/internal/log"
)

func TestOpenInMemoryStartsEmpty(t *testing.T) {
	l := conftreelog.OpenInMemory()
	got, err := l.GetCurrent()
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got != 0 {
		t.Errorf("GetCurrent() = %d, want 0", got)
	}
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		record []byte
	}{
		{"empty", []byte("")},
		{"short", []byte("hello")},
		{"json-ish", []byte(`{"a":1,"b":[true,null]}`)},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("record=%s", tt.name), func(t *testing.T) {
			l := conftreelog.OpenInMemory()
			offset, err := l.Store(tt.record)
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			got, err := l.Load(offset)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(tt.record, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStorePanicsOnForbiddenBytes(t *testing.T) {
	tests := []struct {
		name   string
		record []byte
	}{
		{"tab", []byte("a\tb")},
		{"newline", []byte("a\nb")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Store(%q) did not panic", tt.record)
				}
			}()
			l := conftreelog.OpenInMemory()
			_, _ = l.Store(tt.record)
		})
	}
}

func TestSetCurrentRoundTrip(t *testing.T) {
	l := conftreelog.OpenInMemory()
	offset, err := l.Store([]byte("hello"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := l.SetCurrent(offset, nil); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	got, err := l.GetCurrent()
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got != offset {
		t.Errorf("GetCurrent() = %d, want %d", got, offset)
	}
}

func TestSetCurrentCASConflict(t *testing.T) {
	backend := conftreelog.NewMemBackend()
	writer1 := conftreelog.Attach(backend)
	writer2 := conftreelog.Attach(backend)

	off1, err := writer1.Store([]byte("first"))
	if err != nil {
		t.Fatalf("writer1.Store: %v", err)
	}
	off2, err := writer2.Store([]byte("second"))
	if err != nil {
		t.Fatalf("writer2.Store: %v", err)
	}

	lease := int64(0)
	if err := writer1.SetCurrent(off1, &lease); err != nil {
		t.Fatalf("writer1.SetCurrent: %v", err)
	}

	// writer2 still thinks the root is 0; its CAS must now fail since
	// writer1 already advanced it to off1.
	err = writer2.SetCurrent(off2, &lease)
	if err == nil {
		t.Fatal("writer2.SetCurrent succeeded, want ErrConcurrency")
	}
	if !errors.Is(err, conftreelog.ErrConcurrency) {
		t.Errorf("writer2.SetCurrent error = %v, want wrapping ErrConcurrency", err)
	}

	// A retry with the now-current lease succeeds.
	current, err := writer2.GetCurrent()
	if err != nil {
		t.Fatalf("writer2.GetCurrent: %v", err)
	}
	if err := writer2.SetCurrent(off2, &current); err != nil {
		t.Errorf("writer2.SetCurrent retry: %v", err)
	}
}

func TestLoadCorruptedOffset(t *testing.T) {
	l := conftreelog.OpenInMemory()
	if _, err := l.Load(1); err == nil {
		t.Fatal("Load(1) succeeded, want CorruptedFormat")
	} else if !errors.Is(err, conftreelog.ErrCorruptedFormat) {
		t.Errorf("Load(1) error = %v, want wrapping ErrCorruptedFormat", err)
	}
}

func TestScanDetectsGoodFile(t *testing.T) {
	l := conftreelog.OpenInMemory()
	for _, r := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		if _, err := l.Store(r); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	if err := l.Scan(); err != nil {
		t.Errorf("Scan() = %v, want nil", err)
	}
}

func TestRecordsIncludesHeaderAndBody(t *testing.T) {
	l := conftreelog.OpenInMemory()
	off, err := l.Store([]byte("payload"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := l.SetCurrent(off, nil); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	records, err := l.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Records() returned %d entries, want 3 (identifier, root pointer, payload)", len(records))
	}
	if string(records[0].Data) != conftreelog.Identifier {
		t.Errorf("Records()[0].Data = %q, want identifier", records[0].Data)
	}
	if string(records[2].Data) != "payload" {
		t.Errorf("Records()[2].Data = %q, want %q", records[2].Data, "payload")
	}
	if records[2].Offset != off {
		t.Errorf("Records()[2].Offset = %d, want %d", records[2].Offset, off)
	}
}

func TestOpenCreateIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	l, err := conftreelog.Open(path, true, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}

	offset, err := l.Store([]byte("on-disk"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := l.SetCurrent(offset, nil); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	l.Close()

	reopened, err := conftreelog.Open(path, false, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetCurrent()
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got != offset {
		t.Errorf("GetCurrent() = %d, want %d", got, offset)
	}
	data, err := reopened.Load(got)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "on-disk" {
		t.Errorf("Load() = %q, want %q", data, "on-disk")
	}
}

func TestOpenResetIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	first, err := conftreelog.Open(path, true, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	offset, err := first.Store([]byte("stale"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := first.SetCurrent(offset, nil); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	first.Close()

	reset, err := conftreelog.Open(path, true, true)
	if err != nil {
		t.Fatalf("reset Open: %v", err)
	}
	defer reset.Close()
	got, err := reset.GetCurrent()
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got != 0 {
		t.Errorf("GetCurrent() after reset = %d, want 0", got)
	}
}
