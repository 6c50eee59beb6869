package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		n, err := store.Save(ctx, "abc123", bytes.NewReader([]byte("test content")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, "abc123"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 2*1024*1024)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		n, err := store.Save(ctx, "large", strings.NewReader(largeContent))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})

	t.Run("rejects file over the ceiling and leaves nothing behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 10)

		_, err := store.Save(ctx, "big", strings.NewReader("eleven bytes"))
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, "big")); !os.IsNotExist(err) {
			t.Error("expected partial file to be removed")
		}
	})

	t.Run("accepts file exactly at the ceiling", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 12)

		n, err := store.Save(ctx, "exact", strings.NewReader("test content"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 12 {
			t.Errorf("expected 12 bytes, got %d", n)
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("returns reader and size for existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		os.WriteFile(filepath.Join(dir, "test123"), []byte("data"), 0644)

		rc, size, err := store.Open(ctx, "test123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		if size != 4 {
			t.Errorf("expected size 4, got %d", size)
		}

		content, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(content) != "data" {
			t.Errorf("expected 'data', got %q", content)
		}
	})

	t.Run("reader seeks", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		os.WriteFile(filepath.Join(dir, "seek"), []byte("0123456789"), 0644)

		rc, _, err := store.Open(ctx, "seek")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		if _, err := rc.Seek(5, io.SeekStart); err != nil {
			t.Fatalf("seek failed: %v", err)
		}
		rest, _ := io.ReadAll(rc)
		if string(rest) != "56789" {
			t.Errorf("expected '56789', got %q", rest)
		}
	})

	t.Run("returns ErrNotExist for missing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		_, _, err := store.Open(ctx, "nonexistent")
		if !errors.Is(err, ErrNotExist) {
			t.Errorf("expected ErrNotExist, got %v", err)
		}
	})
}

func TestFileSystemStore_Exists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemStore(dir, 1024)

	os.WriteFile(filepath.Join(dir, "present"), []byte("x"), 0644)

	t.Run("true for present file", func(t *testing.T) {
		ok, err := store.Exists(ctx, "present")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Error("expected true")
		}
	})

	t.Run("false for absent file", func(t *testing.T) {
		ok, err := store.Exists(ctx, "absent")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected false")
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		filePath := filepath.Join(dir, "del123")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(ctx, "del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		if err := store.Delete(ctx, "nonexistent"); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})

	t.Run("deleting twice is a no-op", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		os.WriteFile(filepath.Join(dir, "twice"), []byte("data"), 0644)

		if err := store.Delete(ctx, "twice"); err != nil {
			t.Fatalf("first delete failed: %v", err)
		}
		if err := store.Delete(ctx, "twice"); err != nil {
			t.Errorf("second delete errored: %v", err)
		}
	})
}

func TestFileSystemStore_EnsureReady(t *testing.T) {
	ctx := context.Background()

	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir, 1024)

		if err := store.EnsureReady(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, 1024)

		if err := store.EnsureReady(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
