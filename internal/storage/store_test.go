package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreWriteAndRead(t *testing.T) {
	store := NewStore()
	location := filepath.Join(t.TempDir(), "nested", "foo.lua")

	payload := []byte("return function(prefix, app) end\n")
	entry, err := store.Write(context.Background(), location, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}

	body, err := store.Read(context.Background(), location)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload mismatch: %s", string(body))
	}
}

func TestStoreReadMissing(t *testing.T) {
	store := NewStore()
	_, err := store.Read(context.Background(), filepath.Join(t.TempDir(), "missing.lua"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReadDirectoryIsNotFound(t *testing.T) {
	store := NewStore()
	dir := filepath.Join(t.TempDir(), "dir.lua")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := store.Read(context.Background(), dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	store := NewStore()
	location := filepath.Join(t.TempDir(), "foo.lua")
	if _, err := store.Write(context.Background(), location, bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := store.Remove(context.Background(), location); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if err := store.Remove(context.Background(), location); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if _, err := store.Read(context.Background(), location); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreListSkipsDirectories(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	for _, name := range []string{"b.lua", "a.hcl"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	names, err := store.List(context.Background(), dir)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(names) != 2 || names[0] != "a.hcl" || names[1] != "b.lua" {
		t.Fatalf("unexpected listing: %v", names)
	}

	missing, err := store.List(context.Background(), filepath.Join(dir, "absent"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing dir should list empty, got %v %v", missing, err)
	}
}

func TestStoreWriteCleanupOnInterruptedStream(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	location := filepath.Join(dir, "broken.lua")

	reader := &flakyReader{payload: []byte("partial_source"), failAfter: 5}
	if _, err := store.Write(context.Background(), location, reader); err == nil {
		t.Fatalf("expected error from interrupted reader")
	}
	if _, err := os.Stat(location); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no final file, got err=%v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ".source-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", matches)
	}
}

type flakyReader struct {
	payload   []byte
	failAfter int
	readBytes int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.readBytes >= f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	remaining := f.failAfter - f.readBytes
	if remaining > len(p) {
		remaining = len(p)
	}
	copy(p[:remaining], f.payload[f.readBytes:f.readBytes+remaining])
	f.readBytes += remaining
	return remaining, nil
}
