package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"courier/internal/server/database"
)

func TestArchiveEntryNames(t *testing.T) {
	entry := func(name string) database.FileEntry {
		return database.FileEntry{DisplayName: name}
	}

	t.Run("unique names pass through in order", func(t *testing.T) {
		names := archiveEntryNames([]database.FileEntry{
			entry("a.txt"), entry("b.txt"), entry("c"),
		})
		want := []string{"a.txt", "b.txt", "c"}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
			}
		}
	})

	t.Run("collisions get deterministic suffixes", func(t *testing.T) {
		names := archiveEntryNames([]database.FileEntry{
			entry("report.pdf"), entry("report.pdf"), entry("report.pdf"),
		})
		want := []string{"report.pdf", "report (2).pdf", "report (3).pdf"}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
			}
		}
	})

	t.Run("extensionless collisions", func(t *testing.T) {
		names := archiveEntryNames([]database.FileEntry{
			entry("Makefile"), entry("Makefile"),
		})
		if names[1] != "Makefile (2)" {
			t.Errorf("got %q, want %q", names[1], "Makefile (2)")
		}
	})
}

func TestPrepareArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("returns date-stamped name", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		result, err := svc.CreateTransfer(ctx, uploadBatch("a", "b"), CreateOptions{})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		_, name, err := svc.PrepareArchive(ctx, result.DownloadID, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "transfer-" + time.Now().Format("2006-01-02") + ".zip"
		if name != want {
			t.Errorf("archive name = %q, want %q", name, want)
		}
	})

	t.Run("quota spent", func(t *testing.T) {
		svc, repo, _ := newTestService(t, nil)
		result, err := svc.CreateTransfer(ctx, uploadBatch("a"), CreateOptions{})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		transfer, _ := repo.GetByID(ctx, result.DownloadID)
		for i := 0; i < transfer.MaxDownloads; i++ {
			if _, err := repo.IncrementDownloads(ctx, transfer.ID); err != nil {
				t.Fatalf("increment failed: %v", err)
			}
		}

		_, _, err = svc.PrepareArchive(ctx, result.DownloadID, "")
		if !errors.Is(err, ErrQuotaExhausted) {
			t.Errorf("expected ErrQuotaExhausted, got %v", err)
		}
	})

	t.Run("missing member refuses partial archive", func(t *testing.T) {
		svc, repo, dir := newTestService(t, nil)
		result, err := svc.CreateTransfer(ctx, uploadBatch("a", "b"), CreateOptions{})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		stored, _ := repo.GetByID(ctx, result.DownloadID)
		os.Remove(filepath.Join(dir, stored.Files[1].StoredName))

		_, _, err = svc.PrepareArchive(ctx, result.DownloadID, "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for incomplete set, got %v", err)
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		result, err := svc.CreateTransfer(ctx, uploadBatch("a"), CreateOptions{RequireCode: true})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		_, _, err = svc.PrepareArchive(ctx, result.DownloadID, "WRONG1")
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestWriteArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip preserves names, order, and content", func(t *testing.T) {
		svc, repo, _ := newTestService(t, nil)

		files := []UploadFile{
			{Name: "notes.txt", ContentType: "text/plain", Data: strings.NewReader("first file")},
			{Name: "data.bin", ContentType: "application/octet-stream", Data: strings.NewReader("second file")},
			{Name: "notes.txt", ContentType: "text/plain", Data: strings.NewReader("third file")},
		}
		result, err := svc.CreateTransfer(ctx, files, CreateOptions{})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		transfer, _ := repo.GetByID(ctx, result.DownloadID)

		var buf bytes.Buffer
		if err := svc.WriteArchive(ctx, &buf, transfer); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		if err != nil {
			t.Fatalf("archive unreadable: %v", err)
		}
		if len(zr.File) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(zr.File))
		}

		wantNames := []string{"notes.txt", "data.bin", "notes (2).txt"}
		wantContent := []string{"first file", "second file", "third file"}
		for i, zf := range zr.File {
			if zf.Name != wantNames[i] {
				t.Errorf("entry %d name = %q, want %q", i, zf.Name, wantNames[i])
			}
			rc, err := zf.Open()
			if err != nil {
				t.Fatalf("failed to open entry %s: %v", zf.Name, err)
			}
			content, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("failed to read entry %s: %v", zf.Name, err)
			}
			if string(content) != wantContent[i] {
				t.Errorf("entry %d content = %q, want %q", i, content, wantContent[i])
			}
		}
	})

	t.Run("member vanishing mid-write aborts with truncated output", func(t *testing.T) {
		svc, repo, dir := newTestService(t, nil)
		result, err := svc.CreateTransfer(ctx, uploadBatch("a", "b"), CreateOptions{})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		transfer, _ := repo.GetByID(ctx, result.DownloadID)
		os.Remove(filepath.Join(dir, transfer.Files[1].StoredName))

		var buf bytes.Buffer
		err = svc.WriteArchive(ctx, &buf, transfer)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		// Without a central directory the output is not a readable zip, so
		// clients can tell the download was truncated.
		if _, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len())); err == nil {
			t.Error("expected truncated output to be unreadable as a zip")
		}
	})

	t.Run("canceled context aborts", func(t *testing.T) {
		svc, repo, _ := newTestService(t, nil)
		result, err := svc.CreateTransfer(ctx, uploadBatch("a"), CreateOptions{})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		transfer, _ := repo.GetByID(ctx, result.DownloadID)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		var buf bytes.Buffer
		if err := svc.WriteArchive(canceled, &buf, transfer); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
