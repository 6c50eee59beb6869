package service

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"courier/internal/server/database"
	"courier/internal/server/storage"
)

// PrepareArchive authorizes an archive download and verifies it can be
// produced completely: the quota must not be spent and every member's
// bytes must be present, since a partial archive is never served.
// Returns the transfer and the date-stamped archive name.
func (s *TransferService) PrepareArchive(ctx context.Context, id, code string) (*database.Transfer, string, error) {
	t, err := s.authorize(ctx, id, code)
	if err != nil {
		return nil, "", err
	}

	if t.Downloads >= t.MaxDownloads {
		return nil, "", ErrQuotaExhausted
	}

	for _, f := range t.Files {
		exists, err := s.store.Exists(ctx, f.StoredName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to check %s: %w", f.StoredName, err)
		}
		if !exists {
			return nil, "", fmt.Errorf("%w: incomplete file set", ErrNotFound)
		}
	}

	name := fmt.Sprintf("transfer-%s.zip", time.Now().Format("2006-01-02"))
	return t, name, nil
}

// WriteArchive streams every file of the transfer into w as a zip at
// maximum compression, under the original display names in upload order.
// Files are read and compressed incrementally; nothing is buffered whole.
// On a member I/O error the writer is abandoned without its central
// directory, so the client sees a truncated body rather than a well-formed
// partial archive.
func (s *TransferService) WriteArchive(ctx context.Context, w io.Writer, t *database.Transfer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	names := archiveEntryNames(t.Files)

	for i, f := range t.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, _, err := s.store.Open(ctx, f.StoredName)
		if err != nil {
			if errors.Is(err, storage.ErrNotExist) {
				return fmt.Errorf("%w: %s vanished mid-archive", ErrNotFound, f.DisplayName)
			}
			return err
		}

		header := &zip.FileHeader{
			Name:     names[i],
			Method:   zip.Deflate,
			Modified: f.UploadedAt,
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			content.Close()
			return fmt.Errorf("failed to create archive entry %s: %w", names[i], err)
		}

		if _, err := io.Copy(entry, content); err != nil {
			content.Close()
			return fmt.Errorf("failed to write archive entry %s: %w", names[i], err)
		}
		content.Close()
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// archiveEntryNames maps file entries to archive member names, preserving
// order and disambiguating display-name collisions deterministically:
// the second "report.pdf" becomes "report (2).pdf".
func archiveEntryNames(files []database.FileEntry) []string {
	names := make([]string, len(files))
	seen := make(map[string]int, len(files))

	for i, f := range files {
		name := f.DisplayName
		seen[name]++
		if n := seen[name]; n > 1 {
			ext := filepath.Ext(name)
			base := strings.TrimSuffix(name, ext)
			name = fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
		names[i] = name
	}

	return names
}
