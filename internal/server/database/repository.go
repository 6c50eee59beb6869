package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrQuotaSpent       = errors.New("download quota spent")
)

// Repository provides CRUD operations for transfers. Every state change to
// a transfer goes through a single statement here, so the database row is
// the unit of consistency.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a transfer record together with its file entries in one
// transaction.
func (r *Repository) Create(ctx context.Context, t *Transfer) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO transfers (
			id, access_code_hash, owner_email, total_size,
			downloads, max_downloads, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		t.ID,
		t.AccessCodeHash,
		t.OwnerEmail,
		t.TotalSize,
		t.Downloads,
		t.MaxDownloads,
		t.CreatedAt,
		t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	for _, f := range t.Files {
		_, err = tx.Exec(ctx, `
			INSERT INTO transfer_files (
				transfer_id, stored_name, display_name, size,
				content_type, position, uploaded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			t.ID,
			f.StoredName,
			f.DisplayName,
			f.Size,
			f.ContentType,
			f.Position,
			f.UploadedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create file entry %s: %w", f.StoredName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

// GetByID retrieves a transfer and its file entries in upload order.
func (r *Repository) GetByID(ctx context.Context, id string) (*Transfer, error) {
	t := &Transfer{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, access_code_hash, owner_email, total_size,
			   downloads, max_downloads, created_at, expires_at
		FROM transfers WHERE id = $1
	`, id).Scan(
		&t.ID,
		&t.AccessCodeHash,
		&t.OwnerEmail,
		&t.TotalSize,
		&t.Downloads,
		&t.MaxDownloads,
		&t.CreatedAt,
		&t.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	if t.Files, err = r.loadFiles(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// GetExpired returns all transfers whose expiry time has passed.
func (r *Repository) GetExpired(ctx context.Context) ([]*Transfer, error) {
	return r.queryTransfers(ctx, `
		SELECT id, access_code_hash, owner_email, total_size,
			   downloads, max_downloads, created_at, expires_at
		FROM transfers WHERE expires_at <= NOW()
	`)
}

// IncrementDownloads advances the download counter by one and returns the
// new value. The increment is conditional on the quota not being exhausted,
// so concurrent callers crossing the threshold are serialized by the row
// update and exactly one of them observes the counter reach the ceiling.
func (r *Repository) IncrementDownloads(ctx context.Context, id string) (int, error) {
	var downloads int
	err := r.db.Pool.QueryRow(ctx, `
		UPDATE transfers SET downloads = downloads + 1
		WHERE id = $1 AND downloads < max_downloads
		RETURNING downloads
	`, id).Scan(&downloads)
	if err == nil {
		return downloads, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to increment downloads: %w", err)
	}

	// No row matched: either the transfer is gone or the quota is spent.
	var exists bool
	if err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM transfers WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check transfer existence: %w", err)
	}
	if !exists {
		return 0, ErrTransferNotFound
	}
	return 0, ErrQuotaSpent
}

// Delete removes a transfer record (file entries cascade). Deleting an
// absent record is not an error; the return value reports whether the
// record existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM transfers WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete transfer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > NOW()),
			COALESCE(SUM(downloads), 0),
			COALESCE(SUM(total_size) FILTER (WHERE expires_at > NOW()), 0)
		FROM transfers
	`).Scan(
		&stats.TotalTransfers,
		&stats.ActiveTransfers,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) queryTransfers(ctx context.Context, query string) ([]*Transfer, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		t := &Transfer{}
		if err := rows.Scan(
			&t.ID,
			&t.AccessCodeHash,
			&t.OwnerEmail,
			&t.TotalSize,
			&t.Downloads,
			&t.MaxDownloads,
			&t.CreatedAt,
			&t.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range transfers {
		if t.Files, err = r.loadFiles(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return transfers, nil
}

func (r *Repository) loadFiles(ctx context.Context, transferID string) ([]FileEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT transfer_id, stored_name, display_name, size,
			   content_type, position, uploaded_at
		FROM transfer_files WHERE transfer_id = $1 ORDER BY position
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file entries: %w", err)
	}
	defer rows.Close()

	var files []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(
			&f.TransferID,
			&f.StoredName,
			&f.DisplayName,
			&f.Size,
			&f.ContentType,
			&f.Position,
			&f.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file entry: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
